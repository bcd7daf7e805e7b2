package fraud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"provote/internal/votes/config"
)

// PostgresReputationStore persists IP reputation in PostgreSQL. Updates run
// as single UPSERT statements so concurrent attempts from one IP never lose
// an increment to a read-then-write race.
type PostgresReputationStore struct {
	db  *sql.DB
	cfg config.Fraud
}

func NewPostgresReputationStore(db *sql.DB, cfg config.Fraud) *PostgresReputationStore {
	return &PostgresReputationStore{db: db, cfg: cfg}
}

func (s *PostgresReputationStore) Get(ctx context.Context, ip string) (*IPReputation, error) {
	query := `
		SELECT ip_address, reputation_score, violation_count, total_attempts,
		       success_count, blocked_until, updated_at
		FROM ip_reputation
		WHERE ip_address = $1
	`
	var (
		rep          IPReputation
		blockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, ip).Scan(
		&rep.IPAddress,
		&rep.ReputationScore,
		&rep.ViolationCount,
		&rep.TotalAttempts,
		&rep.SuccessCount,
		&blockedUntil,
		&rep.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ip reputation: %w", err)
	}
	if blockedUntil.Valid {
		rep.BlockedUntil = &blockedUntil.Time
	}
	return &rep, nil
}

func (s *PostgresReputationStore) RecordSuccess(ctx context.Context, ip string, now time.Time) error {
	query := `
		INSERT INTO ip_reputation (
			ip_address, reputation_score, violation_count, total_attempts,
			success_count, updated_at
		)
		VALUES ($1, 100, 0, 1, 1, $2)
		ON CONFLICT (ip_address) DO UPDATE SET
			total_attempts   = ip_reputation.total_attempts + 1,
			success_count    = ip_reputation.success_count + 1,
			reputation_score = LEAST(ip_reputation.reputation_score + $3, 100),
			updated_at       = $2
	`
	if _, err := s.db.ExecContext(ctx, query, ip, now, reputationSuccessDelta); err != nil {
		return fmt.Errorf("record ip success: %w", err)
	}
	return nil
}

func (s *PostgresReputationStore) RecordViolation(ctx context.Context, ip string, now time.Time) error {
	query := `
		INSERT INTO ip_reputation (
			ip_address, reputation_score, violation_count, total_attempts,
			success_count, updated_at
		)
		VALUES ($1, $4, 1, 1, 0, $2)
		ON CONFLICT (ip_address) DO UPDATE SET
			total_attempts   = ip_reputation.total_attempts + 1,
			violation_count  = ip_reputation.violation_count + 1,
			reputation_score = GREATEST(ip_reputation.reputation_score - $3, 0),
			blocked_until    = CASE
				WHEN ip_reputation.violation_count + 1 >= $5 THEN $6::timestamptz
				ELSE ip_reputation.blocked_until
			END,
			updated_at       = $2
	`
	_, err := s.db.ExecContext(ctx, query,
		ip,
		now,
		reputationViolationDelta,
		clampScore(100-reputationViolationDelta),
		s.cfg.ViolationThreshold,
		now.Add(s.cfg.AutoUnblockAfter),
	)
	if err != nil {
		return fmt.Errorf("record ip violation: %w", err)
	}
	return nil
}
