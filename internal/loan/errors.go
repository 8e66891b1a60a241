package loan

import (
	"errors"
	"fmt"
)

var (
	// ErrOfflineWrite marks writes refused because the backend is unreachable.
	ErrOfflineWrite = errors.New("offline write refused")
	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization marks an actor not allowed to perform the action.
	ErrAuthorization = errors.New("not authorized")
	// ErrState marks an action invalid for the current entry or book state.
	ErrState = errors.New("invalid state")
	// ErrTransport marks a network or backend failure.
	ErrTransport = errors.New("transport failure")
	// ErrNotFound indicates a missing book or entry.
	ErrNotFound = errors.New("not found")
)

// OfflineWriteError is returned for any write attempted while offline.
type OfflineWriteError struct {
	Op string
}

func (e *OfflineWriteError) Error() string {
	return fmt.Sprintf("%s: backend unreachable, writes are disabled while offline", e.Op)
}

func (e *OfflineWriteError) Unwrap() error { return ErrOfflineWrite }

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AuthorizationError reports an actor acting outside their rights.
type AuthorizationError struct {
	Actor  string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: user %q: %s", e.Actor, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// StateError reports an action not permitted in the current state.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return "state: " + e.Reason
}

func (e *StateError) Unwrap() error { return ErrState }

// TransportError wraps a network or backend failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + ": transport failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is matches ErrTransport as well as the wrapped cause.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error { return e.Err }
