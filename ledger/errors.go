/*
errors.go - Centralized error taxonomy for the treasury core

PURPOSE:
  All core error types in one place. Domain packages (report, fundevent) wrap
  these with additional context; the API layer maps them to HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors  - user-correctable input problems, never retried
  2. Conflict errors    - duplicate keys, lost state-transition races
  3. Balance errors     - a write would drive a fund negative
  4. Lock errors        - backing-store contention, safe to retry with backoff
  5. Not-found / forbidden

USAGE:
  if errors.Is(err, ledger.ErrConflict) { ... }
  var ib *ledger.InsufficientBalanceError
  if errors.As(err, &ib) { ... ib.Available ... }

SEE ALSO:
  - reconcile.go: produces ValidationError and InsufficientBalanceError
  - generator.go: wraps balance errors with fund context
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrFundNotFound is returned when a referenced fund does not exist.
	ErrFundNotFound = errors.New("fund not found")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate-key inserts and lost
	// compare-and-swap state transitions. The caller must re-fetch and retry
	// manually; automatic retry would hide the race.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientBalance is returned when a write would drive a fund's
	// balance negative and the caller requested the pre-check.
	ErrInsufficientBalance = errors.New("insufficient fund balance")

	// ErrLockTimeout is returned when the fund-scoped lock cannot be acquired
	// within the configured timeout. Safe to retry a bounded number of times.
	ErrLockTimeout = errors.New("fund lock timeout")

	// ErrForbidden is returned when the actor lacks authority for an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInternalInvariant marks a defect, not bad input: a derived-field
	// formula produced an impossible value (e.g. a non-zero period balance).
	ErrInternalInvariant = errors.New("internal invariant violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError is a user-correctable input problem. Surfaced verbatim.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// InsufficientBalanceError reports how far short the fund is.
type InsufficientBalanceError struct {
	FundID    FundID
	Available Amount
	Required  Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on fund %s: available %s, required %s",
		e.FundID, e.Available, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ConflictError reports a duplicate key or a lost transition race.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string { return e.Resource + ": " + e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsValidation reports whether the error is user-correctable input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether the caller should re-fetch and retry manually.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsRetryable reports whether an automatic bounded retry may succeed.
func IsRetryable(err error) bool { return errors.Is(err, ErrLockTimeout) }

// IsNotFound reports whether a referenced entity is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrFundNotFound)
}
