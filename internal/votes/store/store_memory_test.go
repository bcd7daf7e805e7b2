package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pollmodels "provote/internal/polls/models"
	pollstore "provote/internal/polls/store"
	"provote/internal/votes/models"
	"provote/internal/votes/store"
	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
)

type fixture struct {
	polls  *pollstore.MemoryStore
	votes  *store.MemoryStore
	poll   *pollmodels.Poll
	option *pollmodels.PollOption
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	poll := &pollmodels.Poll{
		ID:       id.NewPollID(),
		Title:    "favorite season",
		StartsAt: now.Add(-time.Hour),
		IsActive: true,
	}
	option := &pollmodels.PollOption{
		ID:     id.NewOptionID(),
		PollID: poll.ID,
		Text:   "winter",
	}
	polls := pollstore.NewMemoryStore()
	polls.Put(poll, option)
	return &fixture{
		polls:  polls,
		votes:  store.NewMemory(polls),
		poll:   poll,
		option: option,
		now:    now,
	}
}

func (f *fixture) input(userID id.UserID, key string) store.CastInput {
	return store.CastInput{
		UserID:            userID,
		PollID:            f.poll.ID,
		OptionID:          f.option.ID,
		IdempotencyKey:    key,
		IPAddress:         "203.0.113.5",
		UserAgent:         "Mozilla/5.0",
		Fingerprint:       "aabbccddeeff00112233445566778899",
		CountTowardTotals: true,
		Now:               f.now,
	}
}

func TestCastCreatesVoteAndCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.votes.Cast(ctx, f.input(id.NewUserID(), "key-1"))
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.Vote.IsValid)
	assert.Equal(t, 1, result.TotalVotes)
	assert.Equal(t, 1, result.OptionVotes)
	assert.Equal(t, 1, result.UniqueVoters)

	poll, err := f.polls.GetPoll(ctx, f.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, poll.CachedTotalVotes)

	attempts, err := f.votes.ListAttempts(ctx, f.poll.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.False(t, attempts[0].Duplicate)
}

func TestCastSameKeyResolvesToExistingVote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := id.NewUserID()

	first, err := f.votes.Cast(ctx, f.input(userID, "key-1"))
	require.NoError(t, err)

	second, err := f.votes.Cast(ctx, f.input(userID, "key-1"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Vote.ID, second.Vote.ID)

	// No double counting.
	poll, err := f.polls.GetPoll(ctx, f.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, poll.CachedTotalVotes)
}

func TestCastDifferentKeySameUserConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := id.NewUserID()

	_, err := f.votes.Cast(ctx, f.input(userID, "key-1"))
	require.NoError(t, err)

	_, err = f.votes.Cast(ctx, f.input(userID, "key-2"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateVote))
}

func TestCastAnonymousVotersDoNotConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.votes.Cast(ctx, f.input(id.UserID{}, "anon-key-1"))
	require.NoError(t, err)

	// A different anonymous identity derives a different key and is welcome.
	other := f.input(id.UserID{}, "anon-key-2")
	other.Fingerprint = "99887766554433221100aabbccddeeff"
	result, err := f.votes.Cast(ctx, other)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 2, result.TotalVotes)
	assert.Equal(t, 2, result.UniqueVoters)
}

func TestCastAnonymousSecondOptionCountsOneVoter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	second := &pollmodels.PollOption{
		ID:     id.NewOptionID(),
		PollID: f.poll.ID,
		Text:   "summer",
	}
	f.polls.Put(f.poll, second)

	_, err := f.votes.Cast(ctx, f.input(id.UserID{}, "anon-key-1"))
	require.NoError(t, err)

	// Same fingerprint and IP, different option: a second ballot, not a
	// second voter.
	input := f.input(id.UserID{}, "anon-key-2")
	input.OptionID = second.ID
	result, err := f.votes.Cast(ctx, input)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 2, result.TotalVotes)
	assert.Equal(t, 1, result.UniqueVoters)
}

func TestCastClosedPollRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ended := f.now.Add(-time.Minute)
	f.poll.EndsAt = &ended
	f.polls.Put(f.poll, f.option)

	_, err := f.votes.Cast(ctx, f.input(id.NewUserID(), "key-1"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPollState))
}

func TestCastUnknownPollRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	input := f.input(id.NewUserID(), "key-1")
	input.PollID = id.NewPollID()
	input.OptionID = f.option.ID

	_, err := f.votes.Cast(ctx, input)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestCastForeignOptionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	input := f.input(id.NewUserID(), "key-1")
	input.OptionID = id.NewOptionID()

	_, err := f.votes.Cast(ctx, input)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCastFlaggedVoteRaisesAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	input := f.input(id.NewUserID(), "key-1")
	input.Flagged = true
	input.RiskScore = 50
	input.Reasons = []models.ReasonCode{models.ReasonRapidVotes}

	result, err := f.votes.Cast(ctx, input)
	require.NoError(t, err)
	assert.False(t, result.Vote.IsValid)

	alerts, err := f.votes.ListAlerts(ctx, f.poll.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, result.Vote.ID, alerts[0].VoteID)
	assert.Equal(t, 50, alerts[0].RiskScore)
	assert.Equal(t, []models.ReasonCode{models.ReasonRapidVotes}, alerts[0].Reasons)
}

func TestCastFlaggedVoteExcludedFromTotalsWhenPolicySaysSo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	input := f.input(id.NewUserID(), "key-1")
	input.Flagged = true
	input.RiskScore = 50
	input.CountTowardTotals = false

	result, err := f.votes.Cast(ctx, input)
	require.NoError(t, err)
	assert.True(t, result.Created)

	poll, err := f.polls.GetPoll(ctx, f.poll.ID)
	require.NoError(t, err)
	assert.Zero(t, poll.CachedTotalVotes, "flagged votes stay out of the public totals")
}

func TestCastExcludedFromTotalsReportsCurrentCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.votes.Cast(ctx, f.input(id.NewUserID(), "key-1"))
	require.NoError(t, err)

	input := f.input(id.NewUserID(), "key-2")
	input.Flagged = true
	input.RiskScore = 50
	input.CountTowardTotals = false

	result, err := f.votes.Cast(ctx, input)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 1, result.TotalVotes, "excluded vote leaves the poll total alone")
	assert.Equal(t, 1, result.OptionVotes, "counters in the result reflect the standing counts")
	assert.Equal(t, 1, result.UniqueVoters)
}

func TestActivityQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, key := range []string{"k1", "k2", "k3"} {
		input := f.input(id.UserID{}, key)
		input.Now = f.now.Add(time.Duration(i) * time.Minute)
		_, err := f.votes.Cast(ctx, input)
		require.NoError(t, err)
	}

	count, err := f.votes.CountVotesFromIP(ctx, f.poll.ID, "203.0.113.5", f.now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count, "only votes inside the window count")

	total, distinct, err := f.votes.IPOptionSpread(ctx, f.poll.ID, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, distinct)
}

func TestFindVoteByKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.votes.Cast(ctx, f.input(id.NewUserID(), "key-1"))
	require.NoError(t, err)

	found, err := f.votes.FindVoteByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, result.Vote.ID, found.ID)

	absent, err := f.votes.FindVoteByKey(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, absent)
}
