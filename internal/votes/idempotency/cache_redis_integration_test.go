//go:build integration

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"provote/internal/votes/idempotency"
	"provote/internal/votes/models"
	id "provote/pkg/domain"
	"provote/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *idempotency.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = idempotency.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) sampleVote(key string) *models.Vote {
	return &models.Vote{
		ID:             id.NewVoteID(),
		UserID:         id.NewUserID(),
		PollID:         id.NewPollID(),
		OptionID:       id.NewOptionID(),
		IdempotencyKey: key,
		IPAddress:      "203.0.113.5",
		IsValid:        true,
		FraudReasons:   []models.ReasonCode{models.ReasonRapidVotes},
		RiskScore:      50,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *RedisCacheSuite) TestSetGetRoundTrip() {
	ctx := context.Background()
	vote := s.sampleVote("round-trip")

	s.Require().NoError(s.cache.Set(ctx, "round-trip", vote, time.Minute))

	got, hit, err := s.cache.Get(ctx, "round-trip")
	s.Require().NoError(err)
	s.Require().True(hit)
	s.Equal(vote.ID, got.ID)
	s.Equal(vote.UserID, got.UserID)
	s.Equal(vote.FraudReasons, got.FraudReasons)
	s.Equal(vote.RiskScore, got.RiskScore)
}

func (s *RedisCacheSuite) TestAnonymousVoteRoundTrip() {
	ctx := context.Background()
	vote := s.sampleVote("anon")
	vote.UserID = id.UserID{}

	s.Require().NoError(s.cache.Set(ctx, "anon", vote, time.Minute))

	got, hit, err := s.cache.Get(ctx, "anon")
	s.Require().NoError(err)
	s.Require().True(hit)
	s.True(got.UserID.IsNil())
}

func (s *RedisCacheSuite) TestMiss() {
	_, hit, err := s.cache.Get(context.Background(), "absent")
	s.Require().NoError(err)
	s.False(hit)
}

func (s *RedisCacheSuite) TestCorruptEntryReadsAsMiss() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.Set(ctx, "idempotency:corrupt", "not json", time.Minute).Err())

	_, hit, err := s.cache.Get(ctx, "corrupt")
	s.Require().NoError(err)
	s.False(hit, "a corrupt entry defers to the durable tier")
}

func (s *RedisCacheSuite) TestExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "short", s.sampleVote("short"), 50*time.Millisecond))

	time.Sleep(100 * time.Millisecond)

	_, hit, err := s.cache.Get(ctx, "short")
	s.Require().NoError(err)
	s.False(hit)
}
