// Package events publishes the vote-recorded stream that downstream result
// aggregators and dashboards consume. Publishing is fire-and-forget from the
// caller's point of view: a broker outage never fails a vote.
package events

import (
	"context"
	"time"

	id "provote/pkg/domain"
)

// VoteRecorded is emitted once per committed vote. Replays and rejected
// attempts never produce an event.
type VoteRecorded struct {
	VoteID       id.VoteID
	PollID       id.PollID
	OptionID     id.OptionID
	TotalVotes   int
	OptionVotes  int
	UniqueVoters int
	RecordedAt   time.Time
}

// Publisher delivers events to the bus. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event VoteRecorded) error
}
