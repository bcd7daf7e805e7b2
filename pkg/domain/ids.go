// Package domain holds the typed identifiers shared across the service.
// Wrapping uuid.UUID per entity keeps a poll id from ever being handed to a
// function expecting an option id.
package domain

import (
	"github.com/google/uuid"

	dErrors "provote/pkg/domain-errors"
)

type (
	UserID   uuid.UUID
	PollID   uuid.UUID
	OptionID uuid.UUID
	VoteID   uuid.UUID
)

func (u UserID) IsNil() bool   { return uuid.UUID(u) == uuid.Nil }
func (p PollID) IsNil() bool   { return uuid.UUID(p) == uuid.Nil }
func (o OptionID) IsNil() bool { return uuid.UUID(o) == uuid.Nil }
func (v VoteID) IsNil() bool   { return uuid.UUID(v) == uuid.Nil }

func (u UserID) String() string   { return uuid.UUID(u).String() }
func (p PollID) String() string   { return uuid.UUID(p).String() }
func (o OptionID) String() string { return uuid.UUID(o).String() }
func (v VoteID) String() string   { return uuid.UUID(v).String() }

func ParseUserID(raw string) (UserID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return UserID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid user id")
	}
	return UserID(parsed), nil
}

func ParsePollID(raw string) (PollID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return PollID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid poll id")
	}
	return PollID(parsed), nil
}

func ParseOptionID(raw string) (OptionID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return OptionID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid option id")
	}
	return OptionID(parsed), nil
}

func ParseVoteID(raw string) (VoteID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return VoteID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid vote id")
	}
	return VoteID(parsed), nil
}

func NewUserID() UserID     { return UserID(uuid.New()) }
func NewPollID() PollID     { return PollID(uuid.New()) }
func NewOptionID() OptionID { return OptionID(uuid.New()) }
func NewVoteID() VoteID     { return VoteID(uuid.New()) }
