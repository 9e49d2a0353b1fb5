// Package model defines domain entities for the application.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEvent indicates a change event that can never be processed.
var ErrMalformedEvent = errors.New("malformed change event")

// NipsaUser is a denylist entry: a user whose annotations are hidden from
// public site areas.
type NipsaUser struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is the kind of change carried by a ChangeEvent.
type Action int

const (
	// ActionFlag hides a user's annotations.
	ActionFlag Action = iota + 1
	// ActionUnflag makes a user's annotations public again.
	ActionUnflag
)

// Wire names used on the change channel.
const (
	wireFlag   = "nipsa"
	wireUnflag = "unnipsa"
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionFlag:
		return wireFlag
	case ActionUnflag:
		return wireUnflag
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionFlag, ActionUnflag:
		return true
	default:
		return false
	}
}

// ParseAction converts a wire name into an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case wireFlag:
		return ActionFlag, nil
	case wireUnflag:
		return ActionUnflag, nil
	default:
		return 0, fmt.Errorf("%w: unknown action %q", ErrMalformedEvent, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: invalid action %d", ErrMalformedEvent, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ChangeEvent is published whenever a user is flagged or unflagged.
// It is published even when the store call was a no-op so that a repeated
// request re-runs propagation.
type ChangeEvent struct {
	Action Action `json:"action"`
	UserID string `json:"user_id"`
}

// NewFlagEvent returns the event for flagging userID.
func NewFlagEvent(userID string) ChangeEvent {
	return ChangeEvent{Action: ActionFlag, UserID: userID}
}

// NewUnflagEvent returns the event for unflagging userID.
func NewUnflagEvent(userID string) ChangeEvent {
	return ChangeEvent{Action: ActionUnflag, UserID: userID}
}

// Validate checks that the event can be acted upon.
func (e ChangeEvent) Validate() error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: invalid action %d", ErrMalformedEvent, int(e.Action))
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrMalformedEvent)
	}
	return nil
}

// Encode serializes the event in its wire format.
func (e ChangeEvent) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeChangeEvent parses and validates a wire payload. Every failure
// wraps ErrMalformedEvent.
func DecodeChangeEvent(payload []byte) (ChangeEvent, error) {
	var raw struct {
		Action *string `json:"action"`
		UserID *string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Action == nil {
		return ChangeEvent{}, fmt.Errorf("%w: action is required", ErrMalformedEvent)
	}
	if raw.UserID == nil {
		return ChangeEvent{}, fmt.Errorf("%w: user_id is required", ErrMalformedEvent)
	}

	action, err := ParseAction(*raw.Action)
	if err != nil {
		return ChangeEvent{}, err
	}

	event := ChangeEvent{Action: action, UserID: *raw.UserID}
	if err := event.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return event, nil
}
