package store

import (
	"context"
	"fmt"
	"sync"

	"provote/internal/polls/models"
	id "provote/pkg/domain"
	"provote/pkg/platform/sentinel"
)

// MemoryStore keeps polls in process memory. Tests seed it directly; the
// memory vote store mutates its counters the way the Postgres writer mutates
// the poll row.
type MemoryStore struct {
	mu      sync.RWMutex
	polls   map[id.PollID]*models.Poll
	options map[id.OptionID]*models.PollOption
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		polls:   make(map[id.PollID]*models.Poll),
		options: make(map[id.OptionID]*models.PollOption),
	}
}

// Put seeds a poll and its options.
func (s *MemoryStore) Put(poll *models.Poll, options ...*models.PollOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[poll.ID] = poll
	for _, opt := range options {
		s.options[opt.ID] = opt
	}
}

func (s *MemoryStore) GetPoll(ctx context.Context, pollID id.PollID) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[pollID]
	if !ok {
		return nil, fmt.Errorf("poll %s: %w", pollID, sentinel.ErrNotFound)
	}
	copied := *poll
	return &copied, nil
}

func (s *MemoryStore) GetOption(ctx context.Context, pollID id.PollID, optionID id.OptionID) (*models.PollOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	option, ok := s.options[optionID]
	if !ok || option.PollID != pollID {
		return nil, fmt.Errorf("option %s on poll %s: %w", optionID, pollID, sentinel.ErrNotFound)
	}
	copied := *option
	return &copied, nil
}

// ApplyVoteCounts adjusts the denormalized counters after an admitted vote.
// Called by the memory vote store while it holds its own write lock, which
// serializes counter updates per the one-writer-per-poll rule.
func (s *MemoryStore) ApplyVoteCounts(pollID id.PollID, optionID id.OptionID, countTowardTotals, newVoter bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !countTowardTotals {
		return
	}
	if option, ok := s.options[optionID]; ok {
		option.CachedVoteCount++
	}
	if poll, ok := s.polls[pollID]; ok {
		poll.CachedTotalVotes++
		if newVoter {
			poll.CachedUniqueVoters++
		}
	}
}
