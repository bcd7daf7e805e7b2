package store

import (
	"context"
	"errors"
	"sync"
	"time"

	pollstore "provote/internal/polls/store"
	"provote/internal/votes/models"
	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
	"provote/pkg/platform/sentinel"
)

// MemoryStore mirrors the Postgres writer's semantics under one mutex. The
// single lock plays the role of the per-poll row lock; it is coarser, which
// is fine for tests.
type MemoryStore struct {
	mu       sync.Mutex
	polls    *pollstore.MemoryStore
	byKey    map[string]*models.Vote
	byUser   map[userPollKey]*models.Vote
	votes    []*models.Vote
	attempts []models.VoteAttempt
	alerts   []models.FraudAlert
}

type userPollKey struct {
	userID id.UserID
	pollID id.PollID
}

func NewMemory(polls *pollstore.MemoryStore) *MemoryStore {
	return &MemoryStore{
		polls:  polls,
		byKey:  make(map[string]*models.Vote),
		byUser: make(map[userPollKey]*models.Vote),
	}
}

func (s *MemoryStore) FindVoteByKey(ctx context.Context, key string) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vote, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	copied := *vote
	return &copied, nil
}

func (s *MemoryStore) Cast(ctx context.Context, input CastInput) (*CastResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poll, err := s.polls.GetPoll(ctx, input.PollID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "poll not found")
	}
	if err != nil {
		return nil, transient(err, "load poll")
	}
	if !poll.IsOpen(input.Now) {
		return nil, dErrors.New(dErrors.CodeInvalidPollState, pollStateMessage(poll, input.Now))
	}

	if _, err := s.polls.GetOption(ctx, input.PollID, input.OptionID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "option does not belong to poll")
		}
		return nil, transient(err, "load option")
	}

	if existing, ok := s.byKey[input.IdempotencyKey]; ok {
		copied := *existing
		return &CastResult{Vote: &copied, Created: false}, nil
	}
	if !input.UserID.IsNil() {
		if _, ok := s.byUser[userPollKey{input.UserID, input.PollID}]; ok {
			return nil, dErrors.New(dErrors.CodeDuplicateVote, "voter already has a standing vote on this poll")
		}
	}

	newVoter := true
	if input.UserID.IsNil() {
		newVoter = !s.hasAnonymousVote(input)
	}

	vote := voteFromInput(input)
	s.byKey[vote.IdempotencyKey] = vote
	if !vote.UserID.IsNil() {
		s.byUser[userPollKey{vote.UserID, vote.PollID}] = vote
	}
	s.votes = append(s.votes, vote)

	s.polls.ApplyVoteCounts(input.PollID, input.OptionID, input.CountTowardTotals, newVoter)

	result := &CastResult{Created: true}
	if updated, err := s.polls.GetPoll(ctx, input.PollID); err == nil {
		result.TotalVotes = updated.CachedTotalVotes
		result.UniqueVoters = updated.CachedUniqueVoters
	}
	if updated, err := s.polls.GetOption(ctx, input.PollID, input.OptionID); err == nil {
		result.OptionVotes = updated.CachedVoteCount
	}

	if input.Flagged {
		s.alerts = append(s.alerts, models.FraudAlert{
			VoteID:    vote.ID,
			PollID:    vote.PollID,
			RiskScore: vote.RiskScore,
			Reasons:   vote.FraudReasons,
			CreatedAt: input.Now,
		})
	}

	s.attempts = append(s.attempts, models.VoteAttempt{
		UserID:         input.UserID,
		PollID:         input.PollID,
		OptionID:       input.OptionID,
		VoterToken:     input.VoterToken,
		IdempotencyKey: input.IdempotencyKey,
		IPAddress:      input.IPAddress,
		UserAgent:      input.UserAgent,
		Fingerprint:    input.Fingerprint,
		Success:        true,
		CreatedAt:      input.Now,
	})

	copied := *vote
	result.Vote = &copied
	return result, nil
}

// hasAnonymousVote mirrors the writer's unique-voter check: an anonymous
// identity is its fingerprint and IP. Caller holds the lock.
func (s *MemoryStore) hasAnonymousVote(input CastInput) bool {
	for _, v := range s.votes {
		if v.PollID == input.PollID && v.UserID.IsNil() &&
			v.Fingerprint == input.Fingerprint && v.IPAddress == input.IPAddress {
			return true
		}
	}
	return false
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, attempt models.VoteAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *MemoryStore) CountVotesFromIP(ctx context.Context, pollID id.PollID, ip string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, v := range s.votes {
		if v.PollID == pollID && v.IPAddress == ip && !v.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) IPOptionSpread(ctx context.Context, pollID id.PollID, ip string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	options := make(map[id.OptionID]struct{})
	for _, v := range s.votes {
		if v.PollID == pollID && v.IPAddress == ip {
			total++
			options[v.OptionID] = struct{}{}
		}
	}
	return total, len(options), nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, pollID id.PollID) ([]models.FraudAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var alerts []models.FraudAlert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].PollID == pollID {
			alerts = append(alerts, s.alerts[i])
		}
	}
	return alerts, nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, pollID id.PollID) ([]models.VoteAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var attempts []models.VoteAttempt
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if s.attempts[i].PollID == pollID {
			attempts = append(attempts, s.attempts[i])
		}
	}
	return attempts, nil
}
