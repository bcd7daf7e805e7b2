package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pollmodels "provote/internal/polls/models"
	"provote/internal/votes/models"
	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
)

// Constraint names from the schema. The race-loser path keys off these.
const (
	constraintVoteKey      = "votes_idempotency_key_key"
	constraintVoteUserPoll = "votes_user_poll_key"
)

const uniqueViolation = "23505"

// PostgresStore is the transactional vote writer.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindVoteByKey(ctx context.Context, key string) (*models.Vote, error) {
	vote, err := s.findVote(ctx, s.db, "idempotency_key = $1", key)
	if err != nil {
		return nil, err
	}
	return vote, nil
}

// Cast runs the admission transaction described on the Store interface.
//
// The SELECT ... FOR UPDATE on the poll row serializes every admission for
// one poll: counter updates never interleave, and a poll closing mid-flight
// is observed by whoever holds the lock next. Polls that never contend stay
// fully parallel.
func (s *PostgresStore) Cast(ctx context.Context, input CastInput) (*CastResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient(err, "begin cast transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	poll, err := s.lockPoll(ctx, tx, input.PollID)
	if err != nil {
		return nil, err
	}
	if !poll.IsOpen(input.Now) {
		return nil, dErrors.New(dErrors.CodeInvalidPollState, pollStateMessage(poll, input.Now))
	}

	if err := s.checkOptionMembership(ctx, tx, input.PollID, input.OptionID); err != nil {
		return nil, err
	}

	// Authoritative duplicate guard. The idempotency layer checked earlier,
	// but a racing request may have committed in the window since; the row
	// lock makes this read conclusive. The unique constraints below remain as
	// defense in depth.
	existing, err := s.findStandingVote(ctx, tx, input)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IdempotencyKey == input.IdempotencyKey {
			return &CastResult{Vote: existing, Created: false}, nil
		}
		return nil, dErrors.New(dErrors.CodeDuplicateVote, "voter already has a standing vote on this poll")
	}

	// Unique-voter accounting. An authenticated voter's first vote on the
	// poll is always a new voter; an anonymous voter may already hold a vote
	// on another option of the same poll.
	newVoter := true
	if input.UserID.IsNil() {
		returning, err := s.hasAnonymousVote(ctx, tx, input)
		if err != nil {
			return nil, err
		}
		newVoter = !returning
	}

	vote := voteFromInput(input)
	if err := s.insertVote(ctx, tx, vote); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Race lost after the explicit check. Resolve, don't fail.
			_ = tx.Rollback()
			return s.resolveUniqueViolation(ctx, pqErr, input)
		}
		return nil, transient(err, "insert vote")
	}

	result := &CastResult{Vote: vote, Created: true}
	if input.CountTowardTotals {
		if err := s.applyCounters(ctx, tx, input.PollID, input.OptionID, newVoter, result); err != nil {
			return nil, err
		}
	} else {
		result.TotalVotes = poll.CachedTotalVotes
		result.UniqueVoters = poll.CachedUniqueVoters
		err := tx.QueryRowContext(ctx,
			`SELECT cached_vote_count FROM poll_options WHERE id = $1`,
			uuid.UUID(input.OptionID),
		).Scan(&result.OptionVotes)
		if err != nil {
			return nil, transient(err, "read option counter")
		}
	}

	if input.Flagged {
		if err := insertAlert(ctx, tx, models.FraudAlert{
			VoteID:    vote.ID,
			PollID:    vote.PollID,
			RiskScore: vote.RiskScore,
			Reasons:   vote.FraudReasons,
			CreatedAt: input.Now,
		}); err != nil {
			return nil, err
		}
	}

	// The success attempt commits atomically with the vote: a crash between
	// the two can never leave a vote without its audit row.
	if err := insertAttempt(ctx, tx, models.VoteAttempt{
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
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, transient(err, "commit cast transaction")
	}
	return result, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, attempt models.VoteAttempt) error {
	return insertAttempt(ctx, s.db, attempt)
}

func (s *PostgresStore) CountVotesFromIP(ctx context.Context, pollID id.PollID, ip string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM votes
		WHERE poll_id = $1 AND ip_address = $2 AND created_at >= $3
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, uuid.UUID(pollID), ip, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count votes from ip: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) IPOptionSpread(ctx context.Context, pollID id.PollID, ip string) (int, int, error) {
	query := `
		SELECT COUNT(*), COUNT(DISTINCT option_id)
		FROM votes
		WHERE poll_id = $1 AND ip_address = $2
	`
	var total, distinct int
	if err := s.db.QueryRowContext(ctx, query, uuid.UUID(pollID), ip).Scan(&total, &distinct); err != nil {
		return 0, 0, fmt.Errorf("ip option spread: %w", err)
	}
	return total, distinct, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, pollID id.PollID) ([]models.FraudAlert, error) {
	query := `
		SELECT vote_id, poll_id, risk_score, reasons, created_at
		FROM fraud_alerts
		WHERE poll_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(pollID))
	if err != nil {
		return nil, fmt.Errorf("query fraud alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.FraudAlert
	for rows.Next() {
		var (
			alert    models.FraudAlert
			voteUUID uuid.UUID
			pollUUID uuid.UUID
			reasons  string
		)
		if err := rows.Scan(&voteUUID, &pollUUID, &alert.RiskScore, &reasons, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fraud alert: %w", err)
		}
		alert.VoteID = id.VoteID(voteUUID)
		alert.PollID = id.PollID(pollUUID)
		alert.Reasons = models.SplitReasons(reasons)
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) ListAttempts(ctx context.Context, pollID id.PollID) ([]models.VoteAttempt, error) {
	query := `
		SELECT user_id, poll_id, option_id, voter_token, idempotency_key,
		       ip_address, user_agent, fingerprint, success, duplicate,
		       error_message, created_at
		FROM vote_attempts
		WHERE poll_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(pollID))
	if err != nil {
		return nil, fmt.Errorf("query vote attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.VoteAttempt
	for rows.Next() {
		var (
			attempt  models.VoteAttempt
			userUUID uuid.NullUUID
			pollUUID uuid.UUID
			optUUID  uuid.NullUUID
			ip       sql.NullString
		)
		err := rows.Scan(
			&userUUID,
			&pollUUID,
			&optUUID,
			&attempt.VoterToken,
			&attempt.IdempotencyKey,
			&ip,
			&attempt.UserAgent,
			&attempt.Fingerprint,
			&attempt.Success,
			&attempt.Duplicate,
			&attempt.ErrorMessage,
			&attempt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vote attempt: %w", err)
		}
		if userUUID.Valid {
			attempt.UserID = id.UserID(userUUID.UUID)
		}
		if optUUID.Valid {
			attempt.OptionID = id.OptionID(optUUID.UUID)
		}
		attempt.PollID = id.PollID(pollUUID)
		attempt.IPAddress = ip.String
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// -----------------------------------------------------------------------------
// Transaction internals
// -----------------------------------------------------------------------------

func (s *PostgresStore) lockPoll(ctx context.Context, tx *sql.Tx, pollID id.PollID) (*pollmodels.Poll, error) {
	query := `
		SELECT id, title, created_by, starts_at, ends_at, is_active, is_draft,
		       settings, security_rules, cached_total_votes, cached_unique_voters,
		       created_at, updated_at
		FROM polls
		WHERE id = $1
		FOR UPDATE
	`
	var (
		poll        pollmodels.Poll
		pollUUID    uuid.UUID
		createdBy   uuid.NullUUID
		endsAt      sql.NullTime
		settingsRaw []byte
		securityRaw []byte
	)
	err := tx.QueryRowContext(ctx, query, uuid.UUID(pollID)).Scan(
		&pollUUID,
		&poll.Title,
		&createdBy,
		&poll.StartsAt,
		&endsAt,
		&poll.IsActive,
		&poll.IsDraft,
		&settingsRaw,
		&securityRaw,
		&poll.CachedTotalVotes,
		&poll.CachedUniqueVoters,
		&poll.CreatedAt,
		&poll.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeNotFound, "poll not found")
	}
	if err != nil {
		return nil, transient(err, "lock poll")
	}

	poll.ID = id.PollID(pollUUID)
	if createdBy.Valid {
		poll.CreatedBy = id.UserID(createdBy.UUID)
	}
	if endsAt.Valid {
		t := endsAt.Time
		poll.EndsAt = &t
	}
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &poll.Settings); err != nil {
			return nil, fmt.Errorf("decode poll settings: %w", err)
		}
	}
	if len(securityRaw) > 0 {
		if err := json.Unmarshal(securityRaw, &poll.SecurityRules); err != nil {
			return nil, fmt.Errorf("decode poll security rules: %w", err)
		}
	}
	return &poll, nil
}

func (s *PostgresStore) checkOptionMembership(ctx context.Context, tx *sql.Tx, pollID id.PollID, optionID id.OptionID) error {
	query := `SELECT 1 FROM poll_options WHERE id = $1 AND poll_id = $2`
	var one int
	err := tx.QueryRowContext(ctx, query, uuid.UUID(optionID), uuid.UUID(pollID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return dErrors.New(dErrors.CodeInvalidInput, "option does not belong to poll")
	}
	if err != nil {
		return transient(err, "check option membership")
	}
	return nil
}

// findStandingVote looks for a vote this voter already holds on the poll.
// Authenticated voters match on user id; anonymous voters match on the
// derived idempotency key, which encodes fingerprint and IP.
func (s *PostgresStore) findStandingVote(ctx context.Context, tx *sql.Tx, input CastInput) (*models.Vote, error) {
	if input.UserID.IsNil() {
		return s.findVote(ctx, tx, "idempotency_key = $1", input.IdempotencyKey)
	}
	return s.findVote(ctx, tx, "user_id = $1 AND poll_id = $2",
		uuid.UUID(input.UserID), uuid.UUID(input.PollID))
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) findVote(ctx context.Context, q queryRower, where string, args ...any) (*models.Vote, error) {
	query := `
		SELECT id, user_id, option_id, poll_id, voter_token, idempotency_key,
		       ip_address, user_agent, fingerprint, is_valid, fraud_reasons,
		       risk_score, created_at
		FROM votes
		WHERE ` + where
	var (
		vote     models.Vote
		voteUUID uuid.UUID
		userUUID uuid.NullUUID
		optUUID  uuid.UUID
		pollUUID uuid.UUID
		ip       sql.NullString
		reasons  string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&voteUUID,
		&userUUID,
		&optUUID,
		&pollUUID,
		&vote.VoterToken,
		&vote.IdempotencyKey,
		&ip,
		&vote.UserAgent,
		&vote.Fingerprint,
		&vote.IsValid,
		&reasons,
		&vote.RiskScore,
		&vote.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transient(err, "query vote")
	}

	vote.ID = id.VoteID(voteUUID)
	if userUUID.Valid {
		vote.UserID = id.UserID(userUUID.UUID)
	}
	vote.OptionID = id.OptionID(optUUID)
	vote.PollID = id.PollID(pollUUID)
	vote.IPAddress = ip.String
	vote.FraudReasons = models.SplitReasons(reasons)
	return &vote, nil
}

func voteFromInput(input CastInput) *models.Vote {
	return &models.Vote{
		ID:             id.NewVoteID(),
		UserID:         input.UserID,
		OptionID:       input.OptionID,
		PollID:         input.PollID,
		VoterToken:     input.VoterToken,
		IdempotencyKey: input.IdempotencyKey,
		IPAddress:      input.IPAddress,
		UserAgent:      input.UserAgent,
		Fingerprint:    input.Fingerprint,
		IsValid:        !input.Flagged,
		FraudReasons:   input.Reasons,
		RiskScore:      input.RiskScore,
		CreatedAt:      input.Now,
	}
}

func (s *PostgresStore) insertVote(ctx context.Context, tx *sql.Tx, vote *models.Vote) error {
	query := `
		INSERT INTO votes (
			id, user_id, option_id, poll_id, voter_token, idempotency_key,
			ip_address, user_agent, fingerprint, is_valid, fraud_reasons,
			risk_score, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	var userID any
	if !vote.UserID.IsNil() {
		userID = uuid.UUID(vote.UserID)
	}
	var ip any
	if vote.IPAddress != "" {
		ip = vote.IPAddress
	}
	_, err := tx.ExecContext(ctx, query,
		uuid.UUID(vote.ID),
		userID,
		uuid.UUID(vote.OptionID),
		uuid.UUID(vote.PollID),
		vote.VoterToken,
		vote.IdempotencyKey,
		ip,
		vote.UserAgent,
		vote.Fingerprint,
		vote.IsValid,
		models.JoinReasons(vote.FraudReasons),
		vote.RiskScore,
		vote.CreatedAt,
	)
	return err
}

// applyCounters performs the denormalized-counter updates and captures the
// post-increment snapshot for the vote-recorded event. Plain increments are
// safe here: the poll row lock serializes every admission for this poll.
func (s *PostgresStore) applyCounters(ctx context.Context, tx *sql.Tx, pollID id.PollID, optionID id.OptionID, newVoter bool, result *CastResult) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE poll_options SET cached_vote_count = cached_vote_count + 1
		 WHERE id = $1
		 RETURNING cached_vote_count`,
		uuid.UUID(optionID),
	).Scan(&result.OptionVotes)
	if err != nil {
		return transient(err, "increment option counter")
	}
	err = tx.QueryRowContext(ctx,
		`UPDATE polls
		 SET cached_total_votes = cached_total_votes + 1,
		     cached_unique_voters = cached_unique_voters + CASE WHEN $2 THEN 1 ELSE 0 END
		 WHERE id = $1
		 RETURNING cached_total_votes, cached_unique_voters`,
		uuid.UUID(pollID), newVoter,
	).Scan(&result.TotalVotes, &result.UniqueVoters)
	if err != nil {
		return transient(err, "increment poll counters")
	}
	return nil
}

// hasAnonymousVote reports whether this anonymous identity already holds a
// vote anywhere on the poll. Runs under the poll row lock.
func (s *PostgresStore) hasAnonymousVote(ctx context.Context, tx *sql.Tx, input CastInput) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM votes
		     WHERE poll_id = $1 AND user_id IS NULL
		       AND fingerprint = $2
		       AND ip_address IS NOT DISTINCT FROM NULLIF($3, '')::inet
		 )`,
		uuid.UUID(input.PollID), input.Fingerprint, input.IPAddress,
	).Scan(&exists)
	if err != nil {
		return false, transient(err, "check anonymous voter")
	}
	return exists, nil
}

func insertAlert(ctx context.Context, tx *sql.Tx, alert models.FraudAlert) error {
	query := `
		INSERT INTO fraud_alerts (vote_id, poll_id, risk_score, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.ExecContext(ctx, query,
		uuid.UUID(alert.VoteID),
		uuid.UUID(alert.PollID),
		alert.RiskScore,
		models.JoinReasons(alert.Reasons),
		alert.CreatedAt,
	)
	if err != nil {
		return transient(err, "insert fraud alert")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAttempt(ctx context.Context, e execer, attempt models.VoteAttempt) error {
	query := `
		INSERT INTO vote_attempts (
			user_id, poll_id, option_id, voter_token, idempotency_key,
			ip_address, user_agent, fingerprint, success, duplicate,
			error_message, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var userID any
	if !attempt.UserID.IsNil() {
		userID = uuid.UUID(attempt.UserID)
	}
	var optionID any
	if !attempt.OptionID.IsNil() {
		optionID = uuid.UUID(attempt.OptionID)
	}
	var ip any
	if attempt.IPAddress != "" {
		ip = attempt.IPAddress
	}
	_, err := e.ExecContext(ctx, query,
		userID,
		uuid.UUID(attempt.PollID),
		optionID,
		attempt.VoterToken,
		attempt.IdempotencyKey,
		ip,
		attempt.UserAgent,
		attempt.Fingerprint,
		attempt.Success,
		attempt.Duplicate,
		attempt.ErrorMessage,
		attempt.CreatedAt,
	)
	if err != nil {
		return transient(err, "insert vote attempt")
	}
	return nil
}

// resolveUniqueViolation converts a race-lost insert into the idempotent
// outcome. The cast transaction has already rolled back; reads here run on
// fresh connections.
func (s *PostgresStore) resolveUniqueViolation(ctx context.Context, pqErr *pq.Error, input CastInput) (*CastResult, error) {
	switch pqErr.Constraint {
	case constraintVoteKey:
		existing, err := s.FindVoteByKey(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Winner's transaction not yet visible; ask the caller to retry.
			return nil, dErrors.New(dErrors.CodeTransientStorage, "concurrent vote not yet visible")
		}
		return &CastResult{Vote: existing, Created: false}, nil
	case constraintVoteUserPoll:
		existing, err := s.findVote(ctx, s.db, "user_id = $1 AND poll_id = $2",
			uuid.UUID(input.UserID), uuid.UUID(input.PollID))
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.IdempotencyKey == input.IdempotencyKey {
			return &CastResult{Vote: existing, Created: false}, nil
		}
		return nil, dErrors.New(dErrors.CodeDuplicateVote, "voter already has a standing vote on this poll")
	default:
		return nil, transient(pqErr, "unexpected unique violation")
	}
}

func pollStateMessage(poll *pollmodels.Poll, now time.Time) string {
	switch {
	case poll.IsDraft:
		return "poll is a draft"
	case !poll.IsActive:
		return "poll is not active"
	case now.Before(poll.StartsAt):
		return "poll has not opened yet"
	default:
		return "poll is closed"
	}
}

func transient(err error, message string) error {
	return dErrors.Wrap(err, dErrors.CodeTransientStorage, message)
}
