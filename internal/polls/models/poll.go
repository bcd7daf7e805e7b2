// Package models defines the poll aggregate the casting pipeline reads.
// Poll lifecycle (creation, scheduling, templates) is managed elsewhere; the
// pipeline only reads poll state and mutates the cached counter fields.
package models

import (
	"time"

	id "provote/pkg/domain"
)

// Settings captures per-poll voting behavior.
type Settings struct {
	AllowMultipleVotes bool `json:"allow_multiple_votes"`
	ShowLiveResults    bool `json:"show_live_results"`
	AllowRetraction    bool `json:"allow_retraction"`
}

// SecurityRules captures per-poll access restrictions. Country lists are pure
// configuration; empty lists mean no geographic restriction.
type SecurityRules struct {
	RequireAuthentication bool     `json:"require_authentication"`
	AllowedCountries      []string `json:"allowed_countries,omitempty"`
	BlockedCountries      []string `json:"blocked_countries,omitempty"`
}

// Restricted reports whether any geographic rule is configured.
func (r SecurityRules) Restricted() bool {
	return len(r.AllowedCountries) > 0 || len(r.BlockedCountries) > 0
}

// Poll is the voted-on aggregate. The casting pipeline treats everything
// except the cached counters as read-only.
type Poll struct {
	ID                 id.PollID
	Title              string
	CreatedBy          id.UserID
	StartsAt           time.Time
	EndsAt             *time.Time
	IsActive           bool
	IsDraft            bool
	Settings           Settings
	SecurityRules      SecurityRules
	CachedTotalVotes   int
	CachedUniqueVoters int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsOpen reports whether the poll accepts votes at the given instant.
// The window is [StartsAt, EndsAt); a nil EndsAt means unbounded.
func (p *Poll) IsOpen(now time.Time) bool {
	if !p.IsActive || p.IsDraft {
		return false
	}
	if now.Before(p.StartsAt) {
		return false
	}
	if p.EndsAt != nil && !now.Before(*p.EndsAt) {
		return false
	}
	return true
}

// PollOption is one selectable answer. Belongs to exactly one poll.
type PollOption struct {
	ID              id.OptionID
	PollID          id.PollID
	Text            string
	Order           int
	CachedVoteCount int
	CreatedAt       time.Time
}
