package geo

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	pollmodels "provote/internal/polls/models"
)

type stubLocator struct {
	country string
	err     error
	delay   time.Duration
}

func (s *stubLocator) Country(ctx context.Context, ip string) (string, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.country, s.err
}

type countingObserver struct{ failOpens int }

func (c *countingObserver) IncrementGeoFailOpen() { c.failOpens++ }

func newGate(locator Locator, observer Observer) *Gate {
	return NewGate(locator, 50*time.Millisecond, slog.Default(), observer)
}

func restricted(allowed, blocked []string) pollmodels.SecurityRules {
	return pollmodels.SecurityRules{AllowedCountries: allowed, BlockedCountries: blocked}
}

func TestAllowedUnrestrictedPoll(t *testing.T) {
	gate := newGate(&stubLocator{err: errors.New("should not be called")}, nil)
	assert.True(t, gate.Allowed(context.Background(), "203.0.113.5", pollmodels.SecurityRules{}))
}

func TestAllowedCountryList(t *testing.T) {
	tests := []struct {
		name    string
		country string
		rules   pollmodels.SecurityRules
		want    bool
	}{
		{"on allow list", "SE", restricted([]string{"SE", "NO"}, nil), true},
		{"off allow list", "US", restricted([]string{"SE", "NO"}, nil), false},
		{"on block list", "RU", restricted(nil, []string{"RU"}), false},
		{"off block list", "SE", restricted(nil, []string{"RU"}), true},
		{"block list beats allow list", "SE", restricted([]string{"SE"}, []string{"SE"}), false},
		{"case insensitive", "se", restricted([]string{"SE"}, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newGate(&stubLocator{country: tt.country}, nil)
			assert.Equal(t, tt.want, gate.Allowed(context.Background(), "203.0.113.5", tt.rules))
		})
	}
}

func TestAllowedFailsOpenOnLookupError(t *testing.T) {
	observer := &countingObserver{}
	gate := newGate(&stubLocator{err: errors.New("provider down")}, observer)

	assert.True(t, gate.Allowed(context.Background(), "203.0.113.5", restricted([]string{"SE"}, nil)))
	assert.Equal(t, 1, observer.failOpens)
}

func TestAllowedFailsOpenOnTimeout(t *testing.T) {
	observer := &countingObserver{}
	gate := newGate(&stubLocator{country: "US", delay: time.Second}, observer)

	start := time.Now()
	allowed := gate.Allowed(context.Background(), "203.0.113.5", restricted([]string{"SE"}, nil))

	assert.True(t, allowed)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "the gate must not wait out a slow provider")
	assert.Equal(t, 1, observer.failOpens)
}

func TestAllowedFailsOpenOnEmptyCountry(t *testing.T) {
	gate := newGate(&stubLocator{country: ""}, nil)
	assert.True(t, gate.Allowed(context.Background(), "203.0.113.5", restricted([]string{"SE"}, nil)))
}

func TestAllowedSkipsPrivateAddresses(t *testing.T) {
	gate := newGate(&stubLocator{country: "US"}, nil)
	rules := restricted([]string{"SE"}, nil)

	for _, ip := range []string{"127.0.0.1", "10.0.0.4", "192.168.1.10", "172.16.0.9", "::1", "fe80::1", ""} {
		assert.True(t, gate.Allowed(context.Background(), ip, rules), "ip %q", ip)
	}
}

func TestPrivateIPBoundaries(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"172.15.255.255", false},
		{"172.16.0.0", true},
		{"172.31.255.255", true},
		{"172.32.0.0", false},
		{"172.217.0.1", false},
		{"::1", true},
		{"::123", false},
		{"not an ip", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.private, isPrivateIP(tt.ip), "ip %q", tt.ip)
	}
}

func TestAllowedGeolocatesPublic172Address(t *testing.T) {
	gate := newGate(&stubLocator{country: "US"}, nil)
	assert.False(t, gate.Allowed(context.Background(), "172.217.0.1", restricted([]string{"SE"}, nil)),
		"a public 172.x address must go through the country rules")
}

func TestAllowedNoLocatorConfigured(t *testing.T) {
	gate := newGate(nil, nil)
	assert.True(t, gate.Allowed(context.Background(), "203.0.113.5", restricted([]string{"SE"}, nil)))
}
