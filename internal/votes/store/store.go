// Package store persists votes, attempts, and alerts. The Postgres
// implementation is the transactional core of the pipeline; the memory twin
// backs unit tests and mirrors its semantics exactly.
package store

import (
	"context"
	"time"

	"provote/internal/votes/models"
	id "provote/pkg/domain"
)

// CastInput is the write set for one admission attempt. The fraud decision
// is already computed; the writer applies its policy consequences.
type CastInput struct {
	UserID   id.UserID // zero for anonymous
	PollID   id.PollID
	OptionID id.OptionID

	VoterToken     string
	IdempotencyKey string

	IPAddress   string
	UserAgent   string
	Fingerprint string

	// Flagged admits the vote with IsValid=false and raises a FraudAlert.
	Flagged   bool
	RiskScore int
	Reasons   []models.ReasonCode

	// CountTowardTotals controls the denormalized counter updates. False only
	// for flagged votes under the count-flagged-votes=false policy.
	CountTowardTotals bool

	Now time.Time
}

// CastResult reports the transaction outcome. Created is false when the
// insert lost a race and resolved to the pre-existing vote for the same key.
// The counter snapshot is taken inside the transaction and feeds the
// vote-recorded event; it is zero when Created is false.
type CastResult struct {
	Vote    *models.Vote
	Created bool

	TotalVotes   int
	OptionVotes  int
	UniqueVoters int
}

// Store is the durable side of the pipeline.
//
// Cast runs the whole write set in one transaction holding a row lock on the
// poll: state validation, option membership, the authoritative duplicate
// check, the vote insert, counter updates, the flagged-vote alert, and the
// success VoteAttempt. Failure paths return a coded error after full
// rollback; the orchestrator then audits the attempt on a fresh transaction
// via RecordAttempt.
type Store interface {
	// FindVoteByKey is the durable idempotency lookup.
	FindVoteByKey(ctx context.Context, key string) (*models.Vote, error)

	Cast(ctx context.Context, input CastInput) (*CastResult, error)

	// RecordAttempt appends one audit row on its own transaction. Used for
	// every terminal outcome except the committed-vote path, whose attempt
	// rides in the Cast transaction.
	RecordAttempt(ctx context.Context, attempt models.VoteAttempt) error

	// CountVotesFromIP and IPOptionSpread serve the fraud evaluator.
	CountVotesFromIP(ctx context.Context, pollID id.PollID, ip string, since time.Time) (int, error)
	IPOptionSpread(ctx context.Context, pollID id.PollID, ip string) (total, distinctOptions int, err error)

	// ListAlerts returns fraud alerts for a poll, newest first. Consumed by
	// out-of-scope moderation tooling and by tests.
	ListAlerts(ctx context.Context, pollID id.PollID) ([]models.FraudAlert, error)

	// ListAttempts returns the audit trail for a poll, newest first.
	ListAttempts(ctx context.Context, pollID id.PollID) ([]models.VoteAttempt, error)
}
