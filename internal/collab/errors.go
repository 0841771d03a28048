// ABOUTME: Error taxonomy for collaboration session operations
// ABOUTME: Sentinel errors plus typed LockHeldError and ValidationError for errors.Is/As

package collab

import (
	"errors"
	"fmt"
)

// Sentinel errors returned to the immediate caller only. None of them are
// broadcast to other participants.
var (
	// ErrSessionNotFound is returned when a session ID does not resolve to a live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotAParticipant is returned when the acting user has not joined the session.
	ErrNotAParticipant = errors.New("user is not a participant")

	// ErrLockHeld is matched by *LockHeldError via errors.Is.
	ErrLockHeld = errors.New("file is locked by another user")

	// ErrNotLockHolder is returned when a user releases a lock held by someone else.
	ErrNotLockHolder = errors.New("user does not hold the lock")
)

// LockHeldError reports a failed acquire together with the current holder so
// the client can tell the user who has the file.
type LockHeldError struct {
	Holder string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("file is locked by %s", e.Holder)
}

// Is lets errors.Is(err, ErrLockHeld) match.
func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeld
}

// ValidationError is a malformed or missing field in an inbound operation.
// It is raised before any session logic runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func required(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "required"}
}
