package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HTTPLocator queries an ip-api.com style endpoint. The gate's timeout bounds
// each call; the locator itself keeps no client-side deadline.
type HTTPLocator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLocator(baseURL string) *HTTPLocator {
	return &HTTPLocator{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (l *HTTPLocator) Country(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/"+ip, nil)
	if err != nil {
		return "", fmt.Errorf("build geolocation request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geolocation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geolocation status %d", resp.StatusCode)
	}

	var payload struct {
		CountryCode string `json:"countryCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode geolocation response: %w", err)
	}
	return payload.CountryCode, nil
}

const geoCacheKeyPrefix = "geoip:"

// CachedLocator wraps a Locator with a Redis cache so repeat voters from one
// address don't pay the lookup on every cast.
type CachedLocator struct {
	inner  Locator
	client *redis.Client
	ttl    time.Duration
}

func NewCachedLocator(inner Locator, client *redis.Client, ttl time.Duration) *CachedLocator {
	return &CachedLocator{inner: inner, client: client, ttl: ttl}
}

func (l *CachedLocator) Country(ctx context.Context, ip string) (string, error) {
	key := geoCacheKeyPrefix + ip
	// Cache trouble is not lookup trouble; any miss or error falls through
	// to the provider.
	if cached, err := l.client.Get(ctx, key).Result(); err == nil && cached != "" {
		return cached, nil
	}

	country, err := l.inner.Country(ctx, ip)
	if err != nil {
		return "", err
	}
	if country != "" {
		// Best effort; an uncached entry just means another lookup later.
		_ = l.client.Set(ctx, key, country, l.ttl).Err()
	}
	return country, nil
}
