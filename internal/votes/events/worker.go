package events

import (
	"context"
	"log/slog"
	"time"
)

const drainTimeout = 5 * time.Second

// Worker drains the event inbox and hands each event to the publisher. The
// casting path enqueues without blocking; when the inbox is full the event is
// dropped and logged, never stalling an admission.
type Worker struct {
	publisher Publisher
	inbox     chan VoteRecorded
	logger    *slog.Logger
}

func NewWorker(publisher Publisher, buffer int, logger *slog.Logger) *Worker {
	return &Worker{
		publisher: publisher,
		inbox:     make(chan VoteRecorded, buffer),
		logger:    logger,
	}
}

// Enqueue offers an event to the worker. Returns false when the inbox is
// full and the event was dropped.
func (w *Worker) Enqueue(event VoteRecorded) bool {
	select {
	case w.inbox <- event:
		return true
	default:
		w.logger.Warn("event inbox full, dropping event",
			"vote_id", event.VoteID.String(),
			"poll_id", event.PollID.String(),
		)
		return false
	}
}

// Run publishes until ctx is cancelled, then drains whatever is already
// queued before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.publish(ctx, event)
		}
	}
}

func (w *Worker) publish(ctx context.Context, event VoteRecorded) {
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.Error("publish vote recorded event",
			"vote_id", event.VoteID.String(),
			"error", err,
		)
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-w.inbox:
			w.publish(ctx, event)
		default:
			return
		}
	}
}
