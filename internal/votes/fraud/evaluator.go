// Package fraud scores vote attempts in real time before admission.
//
// The evaluator itself is a pure scoring function over its inputs; the
// stateful signals (IP reputation, fingerprint blocklist, recent-vote
// activity) come in through narrow interfaces so the rules stay testable.
package fraud

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/mssola/useragent"

	"provote/internal/votes/config"
	"provote/internal/votes/models"
	id "provote/pkg/domain"
)

// Rule weights. Combined and capped at 100.
const (
	scoreMissingFingerprint  = 20
	scoreInvalidFingerprint  = 30
	scoreBlockedFingerprint  = 70
	scoreBlockedIP           = 70
	scoreLowIPReputation     = 30
	scoreRapidVotes          = 50
	scoreSingleOption        = 40
	scoreSingleOptionHeavy   = 30
	scoreMissingUserAgent    = 40
	scoreBotUserAgent        = 60
	scoreSuspiciousUserAgent = 30
)

var botUserAgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bot`),
	regexp.MustCompile(`(?i)crawler`),
	regexp.MustCompile(`(?i)spider`),
	regexp.MustCompile(`(?i)scraper`),
	regexp.MustCompile(`(?i)curl`),
	regexp.MustCompile(`(?i)wget`),
	regexp.MustCompile(`(?i)python-requests`),
	regexp.MustCompile(`(?i)go-http-client`),
	regexp.MustCompile(`(?i)java/`),
	regexp.MustCompile(`(?i)apache-httpclient`),
	regexp.MustCompile(`(?i)postman`),
	regexp.MustCompile(`(?i)insomnia`),
	regexp.MustCompile(`(?i)httpie`),
}

var suspiciousUserAgentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Mozilla$`),
	regexp.MustCompile(`(?i)^python`),
	regexp.MustCompile(`(?i)^java`),
}

var hexFingerprint = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Decision is the policy outcome for a scored attempt.
type Decision int

const (
	// DecisionAdmit: score under the flag threshold; vote counts as valid.
	DecisionAdmit Decision = iota
	// DecisionFlag: admitted with IsValid=false and a FraudAlert recorded.
	DecisionFlag
	// DecisionBlock: rejected before any vote row is written.
	DecisionBlock
)

func (d Decision) String() string {
	switch d {
	case DecisionFlag:
		return "flag"
	case DecisionBlock:
		return "block"
	default:
		return "admit"
	}
}

// Input carries everything the evaluator scores.
type Input struct {
	PollID      id.PollID
	OptionID    id.OptionID
	UserID      id.UserID
	IPAddress   string
	UserAgent   string
	Fingerprint string
	Now         time.Time
}

// Assessment is the scored outcome: an integer risk 0-100, the ordered
// reason codes that contributed, and the threshold policy decision.
type Assessment struct {
	RiskScore int
	Reasons   []models.ReasonCode
	Decision  Decision
}

// Flagged reports whether the attempt is admitted but marked invalid.
func (a Assessment) Flagged() bool { return a.Decision == DecisionFlag }

// Blocked reports whether the attempt must be rejected.
func (a Assessment) Blocked() bool { return a.Decision == DecisionBlock }

// ReputationReader reads the rolling per-IP reputation before scoring.
type ReputationReader interface {
	Get(ctx context.Context, ip string) (*IPReputation, error)
}

// FingerprintBlocklist answers blocklist membership for device fingerprints.
type FingerprintBlocklist interface {
	Contains(ctx context.Context, fingerprint string) (bool, error)
}

// ActivityReader exposes the recent-vote queries behind the rapid-vote and
// single-option rules.
type ActivityReader interface {
	// CountVotesFromIP counts votes on a poll from one IP since the cutoff.
	CountVotesFromIP(ctx context.Context, pollID id.PollID, ip string, since time.Time) (int, error)
	// IPOptionSpread reports how many votes one IP has on a poll and how many
	// distinct options those votes target.
	IPOptionSpread(ctx context.Context, pollID id.PollID, ip string) (total, distinctOptions int, err error)
}

// Evaluator applies the rule set and threshold policy.
type Evaluator struct {
	cfg        config.Fraud
	reputation ReputationReader
	blocklist  FingerprintBlocklist
	activity   ActivityReader
	logger     *slog.Logger
}

func NewEvaluator(
	cfg config.Fraud,
	reputation ReputationReader,
	blocklist FingerprintBlocklist,
	activity ActivityReader,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		cfg:        cfg,
		reputation: reputation,
		blocklist:  blocklist,
		activity:   activity,
		logger:     logger,
	}
}

// Evaluate scores one attempt. Stateful lookup failures degrade to skipping
// the rule rather than failing the attempt: fraud infrastructure outages must
// not take voting down.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) Assessment {
	var (
		score   int
		reasons []models.ReasonCode
	)
	add := func(points int, reason models.ReasonCode) {
		score += points
		reasons = append(reasons, reason)
	}

	e.scoreFingerprint(ctx, input, add)
	e.scoreIPReputation(ctx, input, add)
	e.scoreRapidVotes(ctx, input, add)
	e.scoreSingleOptionPattern(ctx, input, add)
	scoreUserAgent(input.UserAgent, add)

	if score > 100 {
		score = 100
	}

	decision := DecisionAdmit
	switch {
	case score >= e.cfg.BlockThreshold:
		decision = DecisionBlock
	case score >= e.cfg.FlagThreshold:
		decision = DecisionFlag
	}

	return Assessment{RiskScore: score, Reasons: reasons, Decision: decision}
}

func (e *Evaluator) scoreFingerprint(ctx context.Context, input Input, add func(int, models.ReasonCode)) {
	fp := input.Fingerprint
	if fp == "" {
		add(scoreMissingFingerprint, models.ReasonMissingFingerprint)
		return
	}
	// Fingerprints are hex digests; anything shorter than 32 chars or
	// non-hex did not come from the collection script.
	if len(fp) < 32 || !hexFingerprint.MatchString(fp) {
		add(scoreInvalidFingerprint, models.ReasonInvalidFingerprint)
		return
	}

	if e.blocklist == nil {
		return
	}
	blocked, err := e.blocklist.Contains(ctx, fp)
	if err != nil {
		e.logger.WarnContext(ctx, "fingerprint blocklist lookup failed, skipping rule", "error", err.Error())
		return
	}
	if blocked {
		add(scoreBlockedFingerprint, models.ReasonBlockedFingerprint)
	}
}

func (e *Evaluator) scoreIPReputation(ctx context.Context, input Input, add func(int, models.ReasonCode)) {
	if input.IPAddress == "" || e.reputation == nil {
		return
	}
	rep, err := e.reputation.Get(ctx, input.IPAddress)
	if err != nil {
		e.logger.WarnContext(ctx, "ip reputation lookup failed, skipping rule", "error", err.Error())
		return
	}
	if rep == nil {
		return
	}
	if rep.BlockedAt(input.Now) {
		add(scoreBlockedIP, models.ReasonBlockedIP)
		return
	}
	if rep.ReputationScore < e.cfg.ReputationThreshold {
		add(scoreLowIPReputation, models.ReasonLowIPReputation)
	}
}

func (e *Evaluator) scoreRapidVotes(ctx context.Context, input Input, add func(int, models.ReasonCode)) {
	if input.IPAddress == "" || e.activity == nil {
		return
	}
	cutoff := input.Now.Add(-e.cfg.RapidVoteWindow)
	recent, err := e.activity.CountVotesFromIP(ctx, input.PollID, input.IPAddress, cutoff)
	if err != nil {
		e.logger.WarnContext(ctx, "rapid-vote lookup failed, skipping rule", "error", err.Error())
		return
	}
	if recent >= e.cfg.RapidVoteMax {
		add(scoreRapidVotes, models.ReasonRapidVotes)
	}
}

func (e *Evaluator) scoreSingleOptionPattern(ctx context.Context, input Input, add func(int, models.ReasonCode)) {
	if input.IPAddress == "" || e.activity == nil {
		return
	}
	total, distinct, err := e.activity.IPOptionSpread(ctx, input.PollID, input.IPAddress)
	if err != nil {
		e.logger.WarnContext(ctx, "option-spread lookup failed, skipping rule", "error", err.Error())
		return
	}
	if distinct == 1 && total >= e.cfg.SingleOptionMin {
		add(scoreSingleOption, models.ReasonSingleOptionPattern)
		if total >= e.cfg.SingleOptionBlock {
			add(scoreSingleOptionHeavy, models.ReasonSingleOptionPattern)
		}
	}
}

func scoreUserAgent(ua string, add func(int, models.ReasonCode)) {
	if ua == "" {
		add(scoreMissingUserAgent, models.ReasonMissingUserAgent)
		return
	}

	parsed := useragent.New(ua)
	if parsed.Bot() {
		add(scoreBotUserAgent, models.ReasonBotUserAgent)
		return
	}
	for _, pattern := range botUserAgentPatterns {
		if pattern.MatchString(ua) {
			add(scoreBotUserAgent, models.ReasonBotUserAgent)
			return
		}
	}
	for _, pattern := range suspiciousUserAgentPatterns {
		if pattern.MatchString(ua) {
			add(scoreSuspiciousUserAgent, models.ReasonSuspiciousUserAgent)
			return
		}
	}
}
