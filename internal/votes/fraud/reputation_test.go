package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provote/internal/votes/config"
)

func TestReputationStartsClean(t *testing.T) {
	store := NewInMemoryReputationStore(config.DefaultConfig().Fraud)

	rep, err := store.Get(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Nil(t, rep, "unknown IPs have no record and score as clean")
}

func TestReputationViolationsAccumulate(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig().Fraud
	store := NewInMemoryReputationStore(cfg)
	now := time.Now().UTC()

	require.NoError(t, store.RecordViolation(ctx, "203.0.113.9", now))
	rep, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 80, rep.ReputationScore)
	assert.Equal(t, 1, rep.ViolationCount)
	assert.Nil(t, rep.BlockedUntil)
}

func TestReputationBlocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig().Fraud
	store := NewInMemoryReputationStore(cfg)
	now := time.Now().UTC()

	for i := 0; i < cfg.ViolationThreshold; i++ {
		require.NoError(t, store.RecordViolation(ctx, "203.0.113.9", now))
	}

	rep, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, rep.BlockedUntil)
	assert.True(t, rep.BlockedAt(now))
	assert.Equal(t, now.Add(cfg.AutoUnblockAfter), *rep.BlockedUntil)

	// The block lifts on its own once the window passes.
	assert.False(t, rep.BlockedAt(now.Add(cfg.AutoUnblockAfter+time.Minute)))
}

func TestReputationScoreFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryReputationStore(config.DefaultConfig().Fraud)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.RecordViolation(ctx, "203.0.113.9", now))
	}

	rep, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ReputationScore)
}

func TestReputationSuccessRecoversSlowly(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryReputationStore(config.DefaultConfig().Fraud)
	now := time.Now().UTC()

	require.NoError(t, store.RecordViolation(ctx, "203.0.113.9", now))
	require.NoError(t, store.RecordSuccess(ctx, "203.0.113.9", now))

	rep, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 81, rep.ReputationScore)
	assert.Equal(t, 1, rep.SuccessCount)
	assert.Equal(t, 2, rep.TotalAttempts)
}

func TestReputationSuccessCapsAt100(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryReputationStore(config.DefaultConfig().Fraud)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordSuccess(ctx, "203.0.113.9", now))
	}

	rep, err := store.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 100, rep.ReputationScore)
}
