// Package store exposes read access to polls for the casting pipeline. Poll
// mutation beyond the cached counters belongs to the out-of-scope management
// code.
package store

import (
	"context"

	"provote/internal/polls/models"
	id "provote/pkg/domain"
)

// Store reads poll state. Implementations return sentinel.ErrNotFound
// (wrapped) for absent rows.
type Store interface {
	GetPoll(ctx context.Context, pollID id.PollID) (*models.Poll, error)
	// GetOption returns the option only when it belongs to the given poll.
	GetOption(ctx context.Context, pollID id.PollID, optionID id.OptionID) (*models.PollOption, error)
}
