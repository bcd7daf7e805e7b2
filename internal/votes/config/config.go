// Package config carries the tunable policy for the casting pipeline. Every
// threshold here is adjustable through the environment without touching the
// evaluator or writer logic.
package config

import (
	"os"
	"strconv"
	"time"
)

// Fraud captures the scoring thresholds and rule parameters.
type Fraud struct {
	// FlagThreshold is the low policy bound: scores at or above it admit the
	// vote with IsValid=false and raise a FraudAlert.
	FlagThreshold int
	// BlockThreshold is the high policy bound: scores at or above it reject
	// the vote before any row is written.
	BlockThreshold int

	// RapidVoteWindow and RapidVoteMax define the rapid-voting rule: more
	// than RapidVoteMax-1 prior votes from one IP on a poll inside the window
	// is suspicious.
	RapidVoteWindow time.Duration
	RapidVoteMax    int

	// SingleOptionMin votes from one IP, all on the same option, is
	// suspicious; SingleOptionBlock of them crosses into blocking territory.
	SingleOptionMin   int
	SingleOptionBlock int

	// ReputationThreshold marks an IP suspicious when its rolling reputation
	// score falls below it. ViolationThreshold blocks an IP outright after
	// that many recorded violations; AutoUnblockAfter lifts the block.
	ReputationThreshold int
	ViolationThreshold  int
	AutoUnblockAfter    time.Duration
}

// Geo captures the geolocation gate behavior.
type Geo struct {
	// Timeout bounds the lookup; on expiry the gate fails open.
	Timeout time.Duration
	// CacheTTL bounds how long a resolved country is reused for an IP.
	CacheTTL time.Duration
}

// Idempotency captures the cache tier behavior.
type Idempotency struct {
	CacheTTL time.Duration
}

// Policy captures explicit product decisions.
type Policy struct {
	// CountFlaggedVotes controls whether flagged-but-admitted votes count
	// toward cached_total_votes. Gross totals remain a true count of writes
	// when true; "verified" tallies always exclude flagged votes either way.
	CountFlaggedVotes bool
}

// Config aggregates the pipeline tuning.
type Config struct {
	Fraud       Fraud
	Geo         Geo
	Idempotency Idempotency
	Policy      Policy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Fraud: Fraud{
			FlagThreshold:       40,
			BlockThreshold:      70,
			RapidVoteWindow:     5 * time.Minute,
			RapidVoteMax:        3,
			SingleOptionMin:     5,
			SingleOptionBlock:   10,
			ReputationThreshold: 30,
			ViolationThreshold:  5,
			AutoUnblockAfter:    24 * time.Hour,
		},
		Geo: Geo{
			Timeout:  250 * time.Millisecond,
			CacheTTL: time.Hour,
		},
		Idempotency: Idempotency{
			CacheTTL: time.Hour,
		},
		Policy: Policy{
			CountFlaggedVotes: true,
		},
	}
}

// FromEnv overlays environment overrides on the defaults.
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.Fraud.FlagThreshold = envInt("FRAUD_FLAG_THRESHOLD", cfg.Fraud.FlagThreshold)
	cfg.Fraud.BlockThreshold = envInt("FRAUD_BLOCK_THRESHOLD", cfg.Fraud.BlockThreshold)
	cfg.Fraud.RapidVoteWindow = envDuration("FRAUD_RAPID_VOTE_WINDOW", cfg.Fraud.RapidVoteWindow)
	cfg.Fraud.RapidVoteMax = envInt("FRAUD_RAPID_VOTE_MAX", cfg.Fraud.RapidVoteMax)
	cfg.Fraud.SingleOptionMin = envInt("FRAUD_SINGLE_OPTION_MIN", cfg.Fraud.SingleOptionMin)
	cfg.Fraud.SingleOptionBlock = envInt("FRAUD_SINGLE_OPTION_BLOCK", cfg.Fraud.SingleOptionBlock)
	cfg.Fraud.ReputationThreshold = envInt("FRAUD_REPUTATION_THRESHOLD", cfg.Fraud.ReputationThreshold)
	cfg.Fraud.ViolationThreshold = envInt("FRAUD_VIOLATION_THRESHOLD", cfg.Fraud.ViolationThreshold)
	cfg.Fraud.AutoUnblockAfter = envDuration("FRAUD_AUTO_UNBLOCK_AFTER", cfg.Fraud.AutoUnblockAfter)
	cfg.Geo.Timeout = envDuration("GEO_TIMEOUT", cfg.Geo.Timeout)
	cfg.Geo.CacheTTL = envDuration("GEO_CACHE_TTL", cfg.Geo.CacheTTL)
	cfg.Idempotency.CacheTTL = envDuration("IDEMPOTENCY_CACHE_TTL", cfg.Idempotency.CacheTTL)
	cfg.Policy.CountFlaggedVotes = envBool("COUNT_FLAGGED_VOTES", cfg.Policy.CountFlaggedVotes)
	return cfg
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
