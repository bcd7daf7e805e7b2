package fraud

import (
	"context"
	"sync"
	"time"

	"provote/internal/votes/config"
)

// InMemoryReputationStore keeps reputation in process memory. Used in tests
// and single-instance deployments; production uses the Postgres store so all
// instances see the same record.
type InMemoryReputationStore struct {
	mu      sync.Mutex
	cfg     config.Fraud
	entries map[string]*IPReputation
}

func NewInMemoryReputationStore(cfg config.Fraud) *InMemoryReputationStore {
	return &InMemoryReputationStore{
		cfg:     cfg,
		entries: make(map[string]*IPReputation),
	}
}

func (s *InMemoryReputationStore) Get(ctx context.Context, ip string) (*IPReputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.entries[ip]
	if !ok {
		return nil, nil
	}
	copied := *rep
	if rep.BlockedUntil != nil {
		until := *rep.BlockedUntil
		copied.BlockedUntil = &until
	}
	return &copied, nil
}

func (s *InMemoryReputationStore) RecordSuccess(ctx context.Context, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.getOrCreate(ip, now)
	rep.TotalAttempts++
	rep.SuccessCount++
	rep.ReputationScore = clampScore(rep.ReputationScore + reputationSuccessDelta)
	rep.UpdatedAt = now
	return nil
}

func (s *InMemoryReputationStore) RecordViolation(ctx context.Context, ip string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.getOrCreate(ip, now)
	rep.TotalAttempts++
	rep.ViolationCount++
	rep.ReputationScore = clampScore(rep.ReputationScore - reputationViolationDelta)
	rep.UpdatedAt = now
	if rep.ViolationCount >= s.cfg.ViolationThreshold {
		until := now.Add(s.cfg.AutoUnblockAfter)
		rep.BlockedUntil = &until
	}
	return nil
}

// getOrCreate must be called while holding s.mu.
func (s *InMemoryReputationStore) getOrCreate(ip string, now time.Time) *IPReputation {
	if rep := s.entries[ip]; rep != nil {
		return rep
	}
	rep := &IPReputation{
		IPAddress:       ip,
		ReputationScore: 100,
		UpdatedAt:       now,
	}
	s.entries[ip] = rep
	return rep
}

// InMemoryBlocklist is the process-local fingerprint blocklist.
type InMemoryBlocklist struct {
	mu           sync.RWMutex
	fingerprints map[string]struct{}
}

func NewInMemoryBlocklist() *InMemoryBlocklist {
	return &InMemoryBlocklist{fingerprints: make(map[string]struct{})}
}

func (b *InMemoryBlocklist) Contains(ctx context.Context, fingerprint string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.fingerprints[fingerprint]
	return ok, nil
}

func (b *InMemoryBlocklist) Add(ctx context.Context, fingerprint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fingerprints[fingerprint] = struct{}{}
	return nil
}
