// Package service orchestrates vote admission: idempotency resolution, poll
// and identity checks, geographic gating, fraud scoring, the transactional
// write, and event emission.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pollstore "provote/internal/polls/store"
	"provote/internal/votes/config"
	"provote/internal/votes/events"
	"provote/internal/votes/fraud"
	"provote/internal/votes/geo"
	"provote/internal/votes/idempotency"
	"provote/internal/votes/metrics"
	"provote/internal/votes/models"
	"provote/internal/votes/store"
	id "provote/pkg/domain"
	dErrors "provote/pkg/domain-errors"
	"provote/pkg/platform/sentinel"
	"provote/pkg/requestcontext"
)

// CastRequest is the transport-free input to one admission.
type CastRequest struct {
	PollID   id.PollID
	OptionID id.OptionID
}

// CastResponse is the terminal outcome of one admission.
type CastResponse struct {
	Vote *models.Vote
	// Created is true for a newly committed vote, false for a resolved
	// replay of an identical prior intent.
	Created bool
}

// EventSink receives the vote-recorded event for each committed vote.
type EventSink interface {
	Enqueue(event events.VoteRecorded) bool
}

// Service runs the casting pipeline. Every call produces exactly one
// VoteAttempt audit row regardless of outcome.
type Service struct {
	cfg         config.Config
	polls       pollstore.Store
	votes       store.Store
	idempotency *idempotency.Store
	evaluator   *fraud.Evaluator
	reputation  fraud.ReputationStore
	geoGate     *geo.Gate
	sink        EventSink
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(
	cfg config.Config,
	polls pollstore.Store,
	votes store.Store,
	idem *idempotency.Store,
	evaluator *fraud.Evaluator,
	reputation fraud.ReputationStore,
	geoGate *geo.Gate,
	sink EventSink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:         cfg,
		polls:       polls,
		votes:       votes,
		idempotency: idem,
		evaluator:   evaluator,
		reputation:  reputation,
		geoGate:     geoGate,
		sink:        sink,
		metrics:     m,
		logger:      logger,
	}
}

// attempt carries the request identity through the pipeline so every exit
// path can audit itself the same way.
type attempt struct {
	userID      id.UserID
	pollID      id.PollID
	optionID    id.OptionID
	voterToken  string
	key         string
	ip          string
	userAgent   string
	fingerprint string
	now         time.Time
}

// Cast admits one vote. Identity and tracking data travel in ctx, set by the
// HTTP middleware or directly by tests.
func (s *Service) Cast(ctx context.Context, req CastRequest) (*CastResponse, error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveCastLatency(time.Since(started))
	}()

	att := attempt{
		userID:      requestcontext.UserID(ctx),
		pollID:      req.PollID,
		optionID:    req.OptionID,
		voterToken:  requestcontext.VoterToken(ctx),
		ip:          requestcontext.ClientIP(ctx),
		userAgent:   requestcontext.UserAgent(ctx),
		fingerprint: requestcontext.Fingerprint(ctx),
		now:         requestcontext.Now(ctx).UTC(),
	}
	att.key = idempotency.Key(idempotency.Intent{
		UserID:      att.userID,
		PollID:      att.pollID,
		OptionID:    att.optionID,
		Fingerprint: att.fingerprint,
		IPAddress:   att.ip,
	})

	// Idempotency first: a replay must resolve before any validation so a
	// retried request keeps succeeding even after its poll closes.
	lookup, err := s.idempotency.Lookup(ctx, att.key)
	if err != nil {
		return nil, s.fail(ctx, att, transientWrap(err, "idempotency lookup"), "error")
	}
	if lookup.Found() {
		tier := "durable"
		if lookup.CacheHit {
			tier = "cache"
		}
		return s.resolveReplay(ctx, att, lookup.Vote, tier), nil
	}

	poll, err := s.polls.GetPoll(ctx, att.pollID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.fail(ctx, att, dErrors.New(dErrors.CodeNotFound, "poll not found"), "invalid")
		}
		return nil, s.fail(ctx, att, transientWrap(err, "load poll"), "error")
	}
	if !poll.IsOpen(att.now) {
		return nil, s.fail(ctx, att,
			dErrors.New(dErrors.CodeInvalidPollState, "poll is not accepting votes"), "rejected_state")
	}
	if _, err := s.polls.GetOption(ctx, att.pollID, att.optionID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.fail(ctx, att,
				dErrors.New(dErrors.CodeInvalidInput, "option does not belong to poll"), "invalid")
		}
		return nil, s.fail(ctx, att, transientWrap(err, "load option"), "error")
	}

	if poll.SecurityRules.RequireAuthentication && att.userID.IsNil() {
		return nil, s.fail(ctx, att,
			dErrors.New(dErrors.CodeUnauthorized, "poll requires an authenticated voter"), "rejected_auth")
	}

	if !s.geoGate.Allowed(ctx, att.ip, poll.SecurityRules) {
		return nil, s.fail(ctx, att,
			dErrors.New(dErrors.CodeGeoRestricted, "voting is not available in your region"), "rejected_geo")
	}

	assessment := s.evaluator.Evaluate(ctx, fraud.Input{
		PollID:      att.pollID,
		OptionID:    att.optionID,
		UserID:      att.userID,
		IPAddress:   att.ip,
		UserAgent:   att.userAgent,
		Fingerprint: att.fingerprint,
		Now:         att.now,
	})
	s.metrics.ObserveRiskScore(assessment.RiskScore)

	if assessment.Blocked() {
		s.recordViolation(ctx, att)
		s.logger.WarnContext(ctx, "vote rejected by fraud scoring",
			"poll_id", att.pollID.String(),
			"risk_score", assessment.RiskScore,
			"reasons", models.JoinReasons(assessment.Reasons),
		)
		return nil, s.fail(ctx, att,
			dErrors.New(dErrors.CodeFraudRejected, "vote rejected by fraud detection"), "rejected_fraud")
	}

	result, err := s.votes.Cast(ctx, store.CastInput{
		UserID:            att.userID,
		PollID:            att.pollID,
		OptionID:          att.optionID,
		VoterToken:        att.voterToken,
		IdempotencyKey:    att.key,
		IPAddress:         att.ip,
		UserAgent:         att.userAgent,
		Fingerprint:       att.fingerprint,
		Flagged:           assessment.Flagged(),
		RiskScore:         assessment.RiskScore,
		Reasons:           assessment.Reasons,
		CountTowardTotals: !assessment.Flagged() || s.cfg.Policy.CountFlaggedVotes,
		Now:               att.now,
	})
	if err != nil {
		return nil, s.failCast(ctx, att, err)
	}
	if !result.Created {
		// Lost a commit race against an identical intent. The winner's vote
		// is the answer.
		return s.resolveReplay(ctx, att, result.Vote, "race"), nil
	}

	s.idempotency.Record(ctx, att.key, result.Vote)
	s.recordSuccess(ctx, att)
	s.emit(result)
	s.metrics.IncrementOutcome("created")

	s.logger.InfoContext(ctx, "vote recorded",
		"vote_id", result.Vote.ID.String(),
		"poll_id", att.pollID.String(),
		"risk_score", assessment.RiskScore,
		"flagged", assessment.Flagged(),
	)
	return &CastResponse{Vote: result.Vote, Created: true}, nil
}

// resolveReplay audits a duplicate resolution and returns the prior vote.
// Replays are successes: the voter's intent holds, nothing changed.
func (s *Service) resolveReplay(ctx context.Context, att attempt, vote *models.Vote, tier string) *CastResponse {
	s.metrics.IncrementIdempotencyHit(tier)
	s.metrics.IncrementOutcome("duplicate")
	s.audit(ctx, att, models.VoteAttempt{Success: true, Duplicate: true})
	return &CastResponse{Vote: vote, Created: false}
}

// failCast translates writer errors into terminal outcomes.
func (s *Service) failCast(ctx context.Context, att attempt, err error) error {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeDuplicateVote:
		return s.fail(ctx, att, err, "rejected_duplicate")
	case dErrors.CodeInvalidPollState:
		return s.fail(ctx, att, err, "rejected_state")
	case dErrors.CodeNotFound, dErrors.CodeInvalidInput:
		return s.fail(ctx, att, err, "invalid")
	default:
		return s.fail(ctx, att, err, "error")
	}
}

// fail audits a non-success outcome and passes the coded error through.
func (s *Service) fail(ctx context.Context, att attempt, err error, outcome string) error {
	s.metrics.IncrementOutcome(outcome)
	s.audit(ctx, att, models.VoteAttempt{ErrorMessage: dErrors.MessageOf(err)})
	return err
}

// audit writes the single per-call VoteAttempt row. Audit failures are
// logged, never surfaced: the attempt trail is diagnostic, the vote outcome
// already stands.
func (s *Service) audit(ctx context.Context, att attempt, partial models.VoteAttempt) {
	partial.UserID = att.userID
	partial.PollID = att.pollID
	partial.OptionID = att.optionID
	partial.VoterToken = att.voterToken
	partial.IdempotencyKey = att.key
	partial.IPAddress = att.ip
	partial.UserAgent = att.userAgent
	partial.Fingerprint = att.fingerprint
	partial.CreatedAt = att.now

	if err := s.votes.RecordAttempt(ctx, partial); err != nil {
		s.logger.ErrorContext(ctx, "record vote attempt",
			"poll_id", att.pollID.String(),
			"error", err.Error(),
		)
	}
}

func (s *Service) recordSuccess(ctx context.Context, att attempt) {
	if s.reputation == nil || att.ip == "" {
		return
	}
	if err := s.reputation.RecordSuccess(ctx, att.ip, att.now); err != nil {
		s.logger.WarnContext(ctx, "record reputation success", "error", err.Error())
	}
}

func (s *Service) recordViolation(ctx context.Context, att attempt) {
	if s.reputation == nil || att.ip == "" {
		return
	}
	if err := s.reputation.RecordViolation(ctx, att.ip, att.now); err != nil {
		s.logger.WarnContext(ctx, "record reputation violation", "error", err.Error())
	}
}

func (s *Service) emit(result *store.CastResult) {
	if s.sink == nil {
		return
	}
	s.sink.Enqueue(events.VoteRecorded{
		VoteID:       result.Vote.ID,
		PollID:       result.Vote.PollID,
		OptionID:     result.Vote.OptionID,
		TotalVotes:   result.TotalVotes,
		OptionVotes:  result.OptionVotes,
		UniqueVoters: result.UniqueVoters,
		RecordedAt:   result.Vote.CreatedAt,
	})
}

func transientWrap(err error, message string) error {
	return dErrors.Wrap(err, dErrors.CodeTransientStorage, message)
}
