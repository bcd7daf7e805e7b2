package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provote/internal/votes/models"
	id "provote/pkg/domain"
)

type stubDurable struct {
	votes map[string]*models.Vote
	err   error
	calls int
}

func (s *stubDurable) FindVoteByKey(ctx context.Context, key string) (*models.Vote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.votes[key], nil
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) (*models.Vote, bool, error) {
	return nil, false, errors.New("redis down")
}

func (failingCache) Set(ctx context.Context, key string, vote *models.Vote, ttl time.Duration) error {
	return errors.New("redis down")
}

func testVote(key string) *models.Vote {
	return &models.Vote{
		ID:             id.NewVoteID(),
		PollID:         id.NewPollID(),
		OptionID:       id.NewOptionID(),
		IdempotencyKey: key,
		IsValid:        true,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestLookupCacheHit(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	durable := &stubDurable{votes: map[string]*models.Vote{}}
	store := NewStore(cache, durable, time.Hour, slog.Default())

	vote := testVote("key-1")
	require.NoError(t, cache.Set(ctx, "key-1", vote, time.Hour))

	lookup, err := store.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, lookup.Found())
	assert.True(t, lookup.CacheHit)
	assert.Equal(t, vote.ID, lookup.Vote.ID)
	assert.Zero(t, durable.calls, "cache hit must not touch the durable tier")
}

func TestLookupFallsThroughToDurableAndBackfills(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	vote := testVote("key-2")
	durable := &stubDurable{votes: map[string]*models.Vote{"key-2": vote}}
	store := NewStore(cache, durable, time.Hour, slog.Default())

	lookup, err := store.Lookup(ctx, "key-2")
	require.NoError(t, err)
	assert.True(t, lookup.Found())
	assert.False(t, lookup.CacheHit)

	// The durable hit is now cached.
	cached, hit, err := cache.Get(ctx, "key-2")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, vote.ID, cached.ID)
}

func TestLookupMiss(t *testing.T) {
	store := NewStore(NewMemoryCache(), &stubDurable{votes: map[string]*models.Vote{}}, time.Hour, slog.Default())

	lookup, err := store.Lookup(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, lookup.Found())
}

func TestLookupCacheOutageDegradesToDurable(t *testing.T) {
	vote := testVote("key-3")
	durable := &stubDurable{votes: map[string]*models.Vote{"key-3": vote}}
	store := NewStore(failingCache{}, durable, time.Hour, slog.Default())

	lookup, err := store.Lookup(context.Background(), "key-3")
	require.NoError(t, err, "a cache outage must not fail the lookup")
	assert.True(t, lookup.Found())
	assert.False(t, lookup.CacheHit)
}

func TestLookupDurableErrorSurfaces(t *testing.T) {
	durable := &stubDurable{err: errors.New("db down")}
	store := NewStore(NewMemoryCache(), durable, time.Hour, slog.Default())

	_, err := store.Lookup(context.Background(), "key-4")
	assert.Error(t, err)
}

func TestRecordPopulatesCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	store := NewStore(cache, &stubDurable{}, time.Hour, slog.Default())

	vote := testVote("key-5")
	store.Record(ctx, "key-5", vote)

	cached, hit, err := cache.Get(ctx, "key-5")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, vote.ID, cached.ID)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	require.NoError(t, cache.Set(ctx, "short", testVote("short"), -time.Second))

	_, hit, err := cache.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, hit, "expired entries read as misses")
}
