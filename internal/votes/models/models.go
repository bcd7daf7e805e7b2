// Package models defines the durable records produced by the casting
// pipeline: the Vote itself, the append-only VoteAttempt audit row, and the
// FraudAlert raised for flagged-but-admitted votes.
package models

import (
	"strings"
	"time"

	id "provote/pkg/domain"
)

// Vote is the durable record of an admitted ballot. Created exactly once
// inside the writer transaction; never updated afterwards except IsValid and
// FraudReasons by out-of-scope moderation.
//
// Invariants: at most one Vote per (non-anonymous UserID, PollID) pair; at
// most one Vote per IdempotencyKey globally. Both are backed by database
// unique constraints.
type Vote struct {
	ID       id.VoteID
	UserID   id.UserID // zero value for anonymous votes
	OptionID id.OptionID
	// PollID is stored redundantly alongside OptionID to avoid a join on the
	// duplicate-vote check and the per-IP fraud queries.
	PollID id.PollID

	VoterToken     string
	IdempotencyKey string

	IPAddress   string
	UserAgent   string
	Fingerprint string

	// IsValid is false when fraud detection flagged the vote but the score
	// stayed under the blocking threshold. The vote is still recorded.
	IsValid      bool
	FraudReasons []ReasonCode
	RiskScore    int

	CreatedAt time.Time
}

// Anonymous reports whether the vote was cast without an authenticated
// identity.
func (v *Vote) Anonymous() bool { return v.UserID.IsNil() }

// VoteAttempt is the immutable audit record of every call into the pipeline,
// successes and failures alike. Never mutated or deleted.
type VoteAttempt struct {
	UserID   id.UserID
	PollID   id.PollID
	OptionID id.OptionID

	VoterToken     string
	IdempotencyKey string

	IPAddress   string
	UserAgent   string
	Fingerprint string

	Success bool
	// Duplicate marks a resolved idempotent replay (cache hit, durable hit,
	// or race-lost unique violation). Duplicates are successes, not failures.
	Duplicate    bool
	ErrorMessage string

	CreatedAt time.Time
}

// FraudAlert is raised when a vote is admitted with IsValid=false. Rejected
// votes never produce an alert; there is no vote row to reference.
type FraudAlert struct {
	VoteID    id.VoteID
	PollID    id.PollID
	RiskScore int
	Reasons   []ReasonCode
	CreatedAt time.Time
}

// ReasonCode is a closed set of fraud signals. Scores and policy live in the
// fraud package; codes stay here so stored votes and alerts remain typed.
type ReasonCode string

const (
	ReasonMissingFingerprint  ReasonCode = "missing_fingerprint"
	ReasonInvalidFingerprint  ReasonCode = "invalid_fingerprint"
	ReasonBlockedFingerprint  ReasonCode = "blocked_fingerprint"
	ReasonBlockedIP           ReasonCode = "blocked_ip"
	ReasonLowIPReputation     ReasonCode = "low_ip_reputation"
	ReasonRapidVotes          ReasonCode = "rapid_votes_from_ip"
	ReasonSingleOptionPattern ReasonCode = "single_option_pattern"
	ReasonMissingUserAgent    ReasonCode = "missing_user_agent"
	ReasonBotUserAgent        ReasonCode = "bot_user_agent"
	ReasonSuspiciousUserAgent ReasonCode = "suspicious_user_agent"
)

// JoinReasons renders reason codes as the comma-separated form stored in the
// database and shown in moderation tooling.
func JoinReasons(reasons []ReasonCode) string {
	if len(reasons) == 0 {
		return ""
	}
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// SplitReasons parses the stored comma-separated form back into codes.
func SplitReasons(raw string) []ReasonCode {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	reasons := make([]ReasonCode, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			reasons = append(reasons, ReasonCode(p))
		}
	}
	return reasons
}
