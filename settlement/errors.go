package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrNothingSelected is returned by Planner.Apply on an empty selection.
	ErrNothingSelected = &ValidationError{Field: "selection", Reason: "nothing selected"}
)

// ValidationError is an operator input problem. Nothing was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError means another terminal settled part of the session first.
// Remaining is the freshly recomputed remaining amount.
type ConflictError struct {
	Remaining int64
	Detail    string
}

func (e *ConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("session changed by another terminal: %s (remaining %d)", e.Detail, e.Remaining)
	}
	return fmt.Sprintf("session changed by another terminal (remaining %d)", e.Remaining)
}

// StoreError wraps a failed ledger read or append.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// InvariantViolation reports ledger state that should be unreachable.
// It is reported, never corrected.
type InvariantViolation struct {
	SessionID uint
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("settlement invariant violated on session %d: %s", e.SessionID, e.Detail)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
