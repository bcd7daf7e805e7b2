package fraud

import (
	"context"
	"time"
)

// IPReputation is the rolling per-IP record read before scoring and updated
// after every attempt from that IP.
type IPReputation struct {
	IPAddress       string
	ReputationScore int // 0-100, starts at 100
	ViolationCount  int
	TotalAttempts   int
	SuccessCount    int
	// BlockedUntil is set when the violation threshold is crossed; the block
	// expires on its own.
	BlockedUntil *time.Time
	UpdatedAt    time.Time
}

// BlockedAt reports whether the IP is under an active block.
func (r *IPReputation) BlockedAt(now time.Time) bool {
	return r.BlockedUntil != nil && now.Before(*r.BlockedUntil)
}

// ReputationStore maintains per-IP reputation. Implementations must apply
// increments as atomic read-modify-write operations; concurrent attempts from
// one IP are the normal case, not the exception.
type ReputationStore interface {
	ReputationReader
	// RecordSuccess bumps the attempt counters and nudges the score up.
	RecordSuccess(ctx context.Context, ip string, now time.Time) error
	// RecordViolation bumps the violation count, drops the score, and sets
	// BlockedUntil once the violation threshold is crossed.
	RecordViolation(ctx context.Context, ip string, now time.Time) error
}

// Score adjustments per attempt outcome.
const (
	reputationSuccessDelta   = 1
	reputationViolationDelta = 20
)

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
