/*
errors.go - Centralized error types for the lending core

PURPOSE:
  All error types in one place. Callers match with errors.Is; structured
  errors wrap the matching sentinel via Unwrap.

TAXONOMY:
  ErrValidation        bad intent, rejected before any write
  ErrDuplicateOrder    order id already exists
  ErrOrderNotFound     referenced order does not exist
  ErrIllegalTransition transition outside the allowed set
  ErrOrderArchived     mutation attempted on a terminal order
  ErrScopeMismatch     undo requested from a different channel
  ErrUndoLimitExceeded consecutive-undo ceiling reached
  ErrNothingToUndo     no undoable entry for this (actor, channel)
  ErrStoreUnavailable  infrastructure failure, fatal to the current action

  Statistics-tier drift is NOT an error: a tier update that fails after the
  order of record has committed surfaces as a DriftWarning on the action
  result and is repaired by reconciliation, not by rollback.

SEE ALSO:
  - validate.go: Produces IntentError values
  - engine package: Maps these onto structured action results
*/
package lending

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("invalid intent")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrOrderArchived     = errors.New("order is archived")
	ErrScopeMismatch     = errors.New("undo scope mismatch")
	ErrUndoLimitExceeded = errors.New("consecutive undo limit exceeded")
	ErrNothingToUndo     = errors.New("nothing to undo")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// IntentError reports which intent field failed validation and why.
type IntentError struct {
	Field  string
	Reason string
}

func (e *IntentError) Error() string {
	return fmt.Sprintf("invalid intent: %s: %s", e.Field, e.Reason)
}

func (e *IntentError) Unwrap() error { return ErrValidation }

// TransitionError carries the rejected transition.
type TransitionError struct {
	OrderID OrderID
	From    OrderState
	To      OrderState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.From.Terminal() {
		return ErrOrderArchived
	}
	return ErrIllegalTransition
}

// ErrorKind maps an error to the stable identifier used in structured action
// results and API responses. Empty for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrDuplicateOrder):
		return "DuplicateOrder"
	case errors.Is(err, ErrOrderNotFound):
		return "OrderNotFound"
	case errors.Is(err, ErrOrderArchived):
		return "OrderArchived"
	case errors.Is(err, ErrIllegalTransition):
		return "IllegalTransition"
	case errors.Is(err, ErrScopeMismatch):
		return "ScopeMismatch"
	case errors.Is(err, ErrUndoLimitExceeded):
		return "UndoLimitExceeded"
	case errors.Is(err, ErrNothingToUndo):
		return "NothingToUndo"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	default:
		return "StoreUnavailable"
	}
}
