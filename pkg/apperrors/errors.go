// Package apperrors defines sentinel errors shared across services and
// handlers. Handlers map these to HTTP statuses; repositories and
// services wrap them with context via fmt.Errorf and %w.
package apperrors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrGuardrailViolation   = errors.New("guardrail violation")
	ErrNoActiveAccount      = errors.New("no active ads account")
	ErrStaleVersion         = errors.New("campaign row changed concurrently")
)
