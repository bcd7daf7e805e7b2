package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"provote/internal/polls/models"
	id "provote/pkg/domain"
	"provote/pkg/platform/sentinel"
)

// PostgresStore reads polls from PostgreSQL without locking. The vote writer
// re-reads the poll FOR UPDATE inside its transaction; this store serves the
// pre-transaction checks (geo rules, require-authentication) and any other
// read-only consumer.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetPoll(ctx context.Context, pollID id.PollID) (*models.Poll, error) {
	query := `
		SELECT id, title, created_by, starts_at, ends_at, is_active, is_draft,
		       settings, security_rules, cached_total_votes, cached_unique_voters,
		       created_at, updated_at
		FROM polls
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(pollID))
	poll, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("poll %s: %w", pollID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query poll: %w", err)
	}
	return poll, nil
}

func (s *PostgresStore) GetOption(ctx context.Context, pollID id.PollID, optionID id.OptionID) (*models.PollOption, error) {
	query := `
		SELECT id, poll_id, text, display_order, cached_vote_count, created_at
		FROM poll_options
		WHERE id = $1 AND poll_id = $2
	`
	var (
		option   models.PollOption
		optUUID  uuid.UUID
		pollUUID uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(optionID), uuid.UUID(pollID)).Scan(
		&optUUID,
		&pollUUID,
		&option.Text,
		&option.Order,
		&option.CachedVoteCount,
		&option.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("option %s on poll %s: %w", optionID, pollID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query poll option: %w", err)
	}
	option.ID = id.OptionID(optUUID)
	option.PollID = id.PollID(pollUUID)
	return &option, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanPoll maps one polls row.
func scanPoll(row rowScanner) (*models.Poll, error) {
	var (
		poll        models.Poll
		pollUUID    uuid.UUID
		createdBy   uuid.NullUUID
		endsAt      sql.NullTime
		settingsRaw []byte
		securityRaw []byte
	)
	err := row.Scan(
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
	if err != nil {
		return nil, err
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
