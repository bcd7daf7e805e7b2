// Package geo adapts the external geolocation service into the casting
// pipeline's allowed/blocked predicate. The gate fails open: a lookup error
// or timeout never blocks a legitimate voter.
package geo

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	pollmodels "provote/internal/polls/models"
)

// Locator resolves an IP address to an ISO 3166-1 alpha-2 country code.
// Implementations wrap whichever provider is deployed (MaxMind database,
// external HTTP API).
type Locator interface {
	Country(ctx context.Context, ip string) (string, error)
}

// Observer counts degraded-mode passes. Satisfied by the pipeline metrics.
type Observer interface {
	IncrementGeoFailOpen()
}

// Gate evaluates a poll's geographic rules against the caller's IP.
type Gate struct {
	locator  Locator
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

func NewGate(locator Locator, timeout time.Duration, logger *slog.Logger, observer Observer) *Gate {
	return &Gate{locator: locator, timeout: timeout, logger: logger, observer: observer}
}

// Allowed reports whether the caller may vote on a poll with the given
// rules. Availability wins over this restriction: no rules, no locator, a
// private IP, a lookup failure, or a timeout all return true. Degraded-mode
// passes are logged for observability.
func (g *Gate) Allowed(ctx context.Context, ip string, rules pollmodels.SecurityRules) bool {
	if !rules.Restricted() {
		return true
	}
	if g.locator == nil || ip == "" || isPrivateIP(ip) {
		return true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	country, err := g.locator.Country(lookupCtx, ip)
	if err != nil {
		g.logger.WarnContext(ctx, "geolocation degraded, failing open",
			"ip", ip,
			"error", err.Error(),
		)
		g.failOpen()
		return true
	}
	if country == "" {
		g.logger.WarnContext(ctx, "geolocation returned no country, failing open", "ip", ip)
		g.failOpen()
		return true
	}

	country = strings.ToUpper(country)
	for _, blocked := range rules.BlockedCountries {
		if strings.EqualFold(blocked, country) {
			return false
		}
	}
	if len(rules.AllowedCountries) > 0 {
		for _, allowed := range rules.AllowedCountries {
			if strings.EqualFold(allowed, country) {
				return true
			}
		}
		return false
	}
	return true
}

func (g *Gate) failOpen() {
	if g.observer != nil {
		g.observer.IncrementGeoFailOpen()
	}
}

// isPrivateIP filters addresses that never geolocate meaningfully. Unparsable
// strings count too; the provider cannot resolve them either.
func isPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
