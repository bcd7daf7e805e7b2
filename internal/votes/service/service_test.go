package service_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pollmodels "provote/internal/polls/models"
	pollstore "provote/internal/polls/store"
	"provote/internal/votes/config"
	"provote/internal/votes/events"
	"provote/internal/votes/fraud"
	"provote/internal/votes/geo"
	"provote/internal/votes/idempotency"
	"provote/internal/votes/service"
	"provote/internal/votes/store"
	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
	"provote/pkg/requestcontext"
)

const (
	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	validFP   = "aabbccddeeff00112233445566778899"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.VoteRecorded
}

func (s *recordingSink) Enqueue(event events.VoteRecorded) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return true
}

func (s *recordingSink) Events() []events.VoteRecorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.VoteRecorded, len(s.events))
	copy(out, s.events)
	return out
}

type stubLocator struct{ country string }

func (s *stubLocator) Country(ctx context.Context, ip string) (string, error) {
	return s.country, nil
}

type harness struct {
	cfg        config.Config
	polls      *pollstore.MemoryStore
	votes      *store.MemoryStore
	cache      *idempotency.MemoryCache
	reputation *fraud.InMemoryReputationStore
	blocklist  *fraud.InMemoryBlocklist
	sink       *recordingSink
	service    *service.Service

	poll   *pollmodels.Poll
	option *pollmodels.PollOption
	now    time.Time
}

type harnessOption func(*harness)

func withCountry(country string) harnessOption {
	return func(h *harness) {
		locator := &stubLocator{country: country}
		gate := geo.NewGate(locator, h.cfg.Geo.Timeout, slog.Default(), nil)
		h.service = h.build(gate)
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h := &harness{
		cfg:   config.DefaultConfig(),
		polls: pollstore.NewMemoryStore(),
		sink:  &recordingSink{},
		now:   now,
	}
	h.votes = store.NewMemory(h.polls)
	h.cache = idempotency.NewMemoryCache()
	h.reputation = fraud.NewInMemoryReputationStore(h.cfg.Fraud)
	h.blocklist = fraud.NewInMemoryBlocklist()

	h.poll = &pollmodels.Poll{
		ID:       id.NewPollID(),
		Title:    "favorite season",
		StartsAt: now.Add(-time.Hour),
		IsActive: true,
	}
	h.option = &pollmodels.PollOption{ID: id.NewOptionID(), PollID: h.poll.ID, Text: "winter"}
	h.polls.Put(h.poll, h.option)

	h.service = h.build(geo.NewGate(nil, h.cfg.Geo.Timeout, slog.Default(), nil))
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *harness) build(gate *geo.Gate) *service.Service {
	logger := slog.Default()
	idem := idempotency.NewStore(h.cache, h.votes, h.cfg.Idempotency.CacheTTL, logger)
	evaluator := fraud.NewEvaluator(h.cfg.Fraud, h.reputation, h.blocklist, h.votes, logger)
	return service.New(h.cfg, h.polls, h.votes, idem, evaluator, h.reputation, gate, h.sink, nil, logger)
}

// ctx builds a request context for an authenticated voter with clean
// tracking signals.
func (h *harness) ctx(userID id.UserID) context.Context {
	ctx := context.Background()
	if !userID.IsNil() {
		ctx = requestcontext.WithUserID(ctx, userID)
	}
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.5", browserUA)
	ctx = requestcontext.WithFingerprint(ctx, validFP)
	return requestcontext.WithTime(ctx, h.now)
}

func (h *harness) request() service.CastRequest {
	return service.CastRequest{PollID: h.poll.ID, OptionID: h.option.ID}
}

func TestCastSuccess(t *testing.T) {
	h := newHarness(t)
	userID := id.NewUserID()

	result, err := h.service.Cast(h.ctx(userID), h.request())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.Vote.IsValid)
	assert.Equal(t, userID, result.Vote.UserID)

	// One success attempt, one event with the fresh counters.
	attempts, err := h.votes.ListAttempts(context.Background(), h.poll.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)

	published := h.sink.Events()
	require.Len(t, published, 1)
	assert.Equal(t, result.Vote.ID, published[0].VoteID)
	assert.Equal(t, 1, published[0].TotalVotes)
	assert.Equal(t, 1, published[0].OptionVotes)

	// Success nudges the IP reputation up.
	rep, err := h.reputation.Get(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.SuccessCount)
}

func TestCastReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	userID := id.NewUserID()
	ctx := h.ctx(userID)

	first, err := h.service.Cast(ctx, h.request())
	require.NoError(t, err)

	second, err := h.service.Cast(ctx, h.request())
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Vote.ID, second.Vote.ID)

	// Exactly one attempt per call; the replay attempt is a duplicate
	// success, and no second event is published.
	attempts, err := h.votes.ListAttempts(context.Background(), h.poll.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Duplicate, "attempts are newest first")
	assert.True(t, attempts[0].Success)
	assert.Len(t, h.sink.Events(), 1)
}

func TestCastReplaySurvivesCacheEviction(t *testing.T) {
	h := newHarness(t)
	userID := id.NewUserID()
	ctx := h.ctx(userID)

	first, err := h.service.Cast(ctx, h.request())
	require.NoError(t, err)

	h.cache.Evict(first.Vote.IdempotencyKey)

	second, err := h.service.Cast(ctx, h.request())
	require.NoError(t, err)
	assert.False(t, second.Created, "the durable tier resolves the replay after eviction")
	assert.Equal(t, first.Vote.ID, second.Vote.ID)
}

func TestCastReplayAfterPollCloses(t *testing.T) {
	h := newHarness(t)
	userID := id.NewUserID()
	ctx := h.ctx(userID)

	_, err := h.service.Cast(ctx, h.request())
	require.NoError(t, err)

	ended := h.now.Add(time.Minute)
	h.poll.EndsAt = &ended
	h.polls.Put(h.poll, h.option)
	lateCtx := requestcontext.WithTime(h.ctx(userID), h.now.Add(time.Hour))

	result, err := h.service.Cast(lateCtx, h.request())
	require.NoError(t, err, "a replay resolves before poll-state validation")
	assert.False(t, result.Created)
}

func TestCastUnknownPoll(t *testing.T) {
	h := newHarness(t)
	req := service.CastRequest{PollID: id.NewPollID(), OptionID: h.option.ID}

	_, err := h.service.Cast(h.ctx(id.NewUserID()), req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	// The failed attempt is still audited.
	attempts, listErr := h.votes.ListAttempts(context.Background(), req.PollID)
	require.NoError(t, listErr)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
}

func TestCastClosedPoll(t *testing.T) {
	h := newHarness(t)
	ended := h.now.Add(-time.Minute)
	h.poll.EndsAt = &ended
	h.polls.Put(h.poll, h.option)

	_, err := h.service.Cast(h.ctx(id.NewUserID()), h.request())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPollState))
}

func TestCastRequireAuthentication(t *testing.T) {
	h := newHarness(t)
	h.poll.SecurityRules.RequireAuthentication = true
	h.polls.Put(h.poll, h.option)

	_, err := h.service.Cast(h.ctx(id.UserID{}), h.request())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// An authenticated voter passes the same rule.
	_, err = h.service.Cast(h.ctx(id.NewUserID()), h.request())
	require.NoError(t, err)
}

func TestCastGeoRestricted(t *testing.T) {
	h := newHarness(t, withCountry("US"))
	h.poll.SecurityRules.AllowedCountries = []string{"SE"}
	h.polls.Put(h.poll, h.option)

	_, err := h.service.Cast(h.ctx(id.NewUserID()), h.request())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGeoRestricted))
	assert.Empty(t, h.sink.Events())
}

func TestCastFraudBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctx = requestcontext.WithUserID(ctx, id.NewUserID())
	// curl plus a missing fingerprint lands well past the block threshold.
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.5", "curl/8.4.0")
	ctx = requestcontext.WithTime(ctx, h.now)

	_, err := h.service.Cast(ctx, h.request())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeFraudRejected))

	// No vote row, no alert, no event; one failed attempt; one violation.
	poll, pollErr := h.polls.GetPoll(context.Background(), h.poll.ID)
	require.NoError(t, pollErr)
	assert.Zero(t, poll.CachedTotalVotes)
	alerts, alertErr := h.votes.ListAlerts(context.Background(), h.poll.ID)
	require.NoError(t, alertErr)
	assert.Empty(t, alerts, "rejected votes never raise alerts")
	assert.Empty(t, h.sink.Events())

	attempts, attErr := h.votes.ListAttempts(context.Background(), h.poll.ID)
	require.NoError(t, attErr)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.NotEmpty(t, attempts[0].ErrorMessage)

	rep, repErr := h.reputation.Get(context.Background(), "203.0.113.5")
	require.NoError(t, repErr)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.ViolationCount)
}

func TestCastFlaggedVoteAdmitted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctx = requestcontext.WithUserID(ctx, id.NewUserID())
	// Missing fingerprint plus a bare Mozilla UA scores into flag range
	// without reaching the block threshold.
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.5", "Mozilla")
	ctx = requestcontext.WithTime(ctx, h.now)

	result, err := h.service.Cast(ctx, h.request())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.Vote.IsValid)
	assert.NotEmpty(t, result.Vote.FraudReasons)

	alerts, err := h.votes.ListAlerts(context.Background(), h.poll.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	// Default policy counts flagged votes toward totals, so the event
	// carries the incremented counters.
	published := h.sink.Events()
	require.Len(t, published, 1)
	assert.Equal(t, 1, published[0].TotalVotes)
}

func TestCastConcurrentIdenticalIntents(t *testing.T) {
	h := newHarness(t)
	userID := id.NewUserID()
	const callers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		replays int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.service.Cast(h.ctx(userID), h.request())
			if err != nil {
				t.Errorf("concurrent cast failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Created {
				created++
			} else {
				replays++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one caller commits the vote")
	assert.Equal(t, callers-1, replays)

	// One vote, one event, one attempt per call.
	poll, err := h.polls.GetPoll(context.Background(), h.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, poll.CachedTotalVotes)
	assert.Len(t, h.sink.Events(), 1)

	attempts, err := h.votes.ListAttempts(context.Background(), h.poll.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, callers)
}
