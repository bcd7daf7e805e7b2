package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes each event to the log and discards it. Used when no
// broker is configured so the process never buffers events without bound.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event VoteRecorded) error {
	p.logger.InfoContext(ctx, "vote recorded event",
		"vote_id", event.VoteID.String(),
		"poll_id", event.PollID.String(),
		"option_id", event.OptionID.String(),
		"total_votes", event.TotalVotes,
	)
	return nil
}
