package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates no live actor is registered for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyStarted indicates an actor is already running for the id.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrQueueFull indicates the actor inbox is at capacity; the event was not enqueued.
	ErrQueueFull = errors.New("session inbox full")
	// ErrResetRequired indicates the client sequence diverged past the reconcile threshold.
	ErrResetRequired = errors.New("session reset required")
	// ErrSupervisorClosed indicates Shutdown already ran.
	ErrSupervisorClosed = errors.New("session supervisor closed")

	// errActorExited is returned by a handle whose goroutine has terminated.
	errActorExited = errors.New("session actor exited")
)

// MalformedEventError rejects an event that is missing a required field.
type MalformedEventError struct {
	Type  EventType
	Field string
}

func (e *MalformedEventError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed event: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed %s event: missing %s", e.Type, e.Field)
}

// IsMalformed reports whether err rejects a malformed event.
func IsMalformed(err error) bool {
	var target *MalformedEventError
	return errors.As(err, &target)
}
