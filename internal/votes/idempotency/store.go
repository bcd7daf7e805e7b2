package idempotency

import (
	"context"
	"log/slog"
	"time"

	"provote/internal/votes/models"
)

// Cache is the fast, short-TTL tier. Implementations must treat themselves as
// purely a latency optimization: a miss proves nothing, and an outage leaves
// the pipeline correct through the durable tier.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Vote, bool, error)
	Set(ctx context.Context, key string, vote *models.Vote, ttl time.Duration) error
}

// DurableLookup resolves a key against the Vote table's unique constraint,
// the final authority on whether a prior vote exists.
type DurableLookup interface {
	FindVoteByKey(ctx context.Context, key string) (*models.Vote, error)
}

// Lookup is the typed result of a two-tier check: either nothing was found or
// a concrete prior vote was.
type Lookup struct {
	Vote     *models.Vote
	CacheHit bool
}

// Found reports whether a prior vote resolved for the key.
func (l Lookup) Found() bool { return l.Vote != nil }

// Store is the two-tier idempotency check: cache first, Vote table on miss,
// cache backfilled on a durable hit.
type Store struct {
	cache   Cache
	durable DurableLookup
	ttl     time.Duration
	logger  *slog.Logger
}

func NewStore(cache Cache, durable DurableLookup, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{cache: cache, durable: durable, ttl: ttl, logger: logger}
}

// Lookup resolves a key to a previously-produced vote, if any. Cache errors
// degrade to the durable tier rather than failing the request. A miss does
// NOT guarantee no prior vote exists; the writer transaction re-checks under
// the unique constraint.
func (s *Store) Lookup(ctx context.Context, key string) (Lookup, error) {
	if s.cache != nil {
		vote, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "idempotency cache degraded, falling through to durable lookup",
				"error", err.Error(),
			)
		} else if hit {
			return Lookup{Vote: vote, CacheHit: true}, nil
		}
	}

	vote, err := s.durable.FindVoteByKey(ctx, key)
	if err != nil {
		return Lookup{}, err
	}
	if vote == nil {
		return Lookup{}, nil
	}

	s.backfill(ctx, key, vote)
	return Lookup{Vote: vote}, nil
}

// Record stores a resolved result in the cache tier. Best effort: the Vote
// row's unique key already guarantees durability.
func (s *Store) Record(ctx context.Context, key string, vote *models.Vote) {
	s.backfill(ctx, key, vote)
}

func (s *Store) backfill(ctx context.Context, key string, vote *models.Vote) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, vote, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "idempotency cache backfill failed",
			"error", err.Error(),
		)
	}
}
