package engine

import "fmt"

// The engine reports failures as one of four typed errors (plus
// repo.ErrNotFound). Callers branch on the type, not the message.

// ValidationError rejects a malformed request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StateError rejects an operation that is invalid for the entity's current
// status; the entity is left unchanged.
type StateError struct {
	Reason string
}

func (e StateError) Error() string { return e.Reason }

// ConflictError reports a unique-key violation. For idempotent operations
// callers treat it as "already done"; for user actions it surfaces as a
// conflict.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// DependencyError reports an unavailable collaborator (attendance or worker
// profile source). Work for the affected worker is skipped, never the whole
// batch.
type DependencyError struct {
	Source string
	Err    error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e DependencyError) Unwrap() error { return e.Err }
