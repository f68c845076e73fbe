package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleResult marks an async result that arrived after its room was left.
	ErrStaleResult       = errors.New("stale result")
	ErrSessionNotStarted = errors.New("session not started")
	ErrSessionClosed     = errors.New("session closed")
	ErrNoIdentity        = errors.New("no authenticated identity")
	ErrNoRoom            = errors.New("no room selected")
	ErrChannelNotOpen    = errors.New("room channel not open")
)

// ValidationError rejects input before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// SubscriptionError reports a failure to subscribe to a realtime channel.
type SubscriptionError struct {
	Channel string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Channel, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed MessageStore call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// AlreadyOpenError is returned when a channel bound to one room is opened for another.
type AlreadyOpenError struct {
	Open      RoomKey
	Requested RoomKey
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("room channel already open for %s, requested %s", e.Open, e.Requested)
}
