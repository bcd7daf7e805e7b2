package events

import (
	"context"
	"sync"
)

// MemoryPublisher collects events in process memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []VoteRecorded
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, event VoteRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []VoteRecorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]VoteRecorded, len(p.events))
	copy(out, p.events)
	return out
}
