package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "provote/pkg/domain"
	"provote/internal/votes/models"
)

const cacheKeyPrefix = "idempotency:"

// RedisCache is the production cache tier, shared across instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// cachedVote is the wire form kept in Redis. UUIDs travel as strings.
type cachedVote struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	OptionID       string    `json:"option_id"`
	PollID         string    `json:"poll_id"`
	VoterToken     string    `json:"voter_token,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	IsValid        bool      `json:"is_valid"`
	FraudReasons   string    `json:"fraud_reasons,omitempty"`
	RiskScore      int       `json:"risk_score"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.Vote, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency cache get: %w", err)
	}

	var cached cachedVote
	if err := json.Unmarshal(raw, &cached); err != nil {
		// A corrupt entry is treated as a miss; the durable tier decides.
		return nil, false, nil
	}
	vote, err := cached.toVote()
	if err != nil {
		return nil, false, nil
	}
	return vote, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vote *models.Vote, ttl time.Duration) error {
	payload, err := json.Marshal(fromVote(vote))
	if err != nil {
		return fmt.Errorf("marshal cached vote: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency cache set: %w", err)
	}
	return nil
}

func fromVote(v *models.Vote) cachedVote {
	cached := cachedVote{
		ID:             v.ID.String(),
		OptionID:       v.OptionID.String(),
		PollID:         v.PollID.String(),
		VoterToken:     v.VoterToken,
		IdempotencyKey: v.IdempotencyKey,
		IPAddress:      v.IPAddress,
		UserAgent:      v.UserAgent,
		Fingerprint:    v.Fingerprint,
		IsValid:        v.IsValid,
		FraudReasons:   models.JoinReasons(v.FraudReasons),
		RiskScore:      v.RiskScore,
		CreatedAt:      v.CreatedAt,
	}
	if !v.UserID.IsNil() {
		cached.UserID = v.UserID.String()
	}
	return cached
}

func (c cachedVote) toVote() (*models.Vote, error) {
	voteID, err := uuid.Parse(c.ID)
	if err != nil {
		return nil, err
	}
	optionID, err := uuid.Parse(c.OptionID)
	if err != nil {
		return nil, err
	}
	pollID, err := uuid.Parse(c.PollID)
	if err != nil {
		return nil, err
	}

	vote := &models.Vote{
		ID:             id.VoteID(voteID),
		OptionID:       id.OptionID(optionID),
		PollID:         id.PollID(pollID),
		VoterToken:     c.VoterToken,
		IdempotencyKey: c.IdempotencyKey,
		IPAddress:      c.IPAddress,
		UserAgent:      c.UserAgent,
		Fingerprint:    c.Fingerprint,
		IsValid:        c.IsValid,
		FraudReasons:   models.SplitReasons(c.FraudReasons),
		RiskScore:      c.RiskScore,
		CreatedAt:      c.CreatedAt,
	}
	if c.UserID != "" {
		userID, err := uuid.Parse(c.UserID)
		if err != nil {
			return nil, err
		}
		vote.UserID = id.UserID(userID)
	}
	return vote, nil
}
