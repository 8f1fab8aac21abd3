/*
errors.go - Centralized error types for the inventory engine

ERROR CATEGORIES:
  1. Lookup errors - referenced asset/part/staff absent
  2. Validation errors - malformed arguments, illegal transitions
  3. Invariant errors - exclusivity conflicts, insufficient stock
  4. Store errors - optimistic concurrency failures

Every structured error unwraps to its sentinel so callers can branch with
errors.Is and still render the entity ids carried in the struct.
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrentModification is returned by stores when a row version
	// check fails. It is a Conflict.
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification detected", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "asset", "staff", "part"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func assetNotFound(id AssetID) error { return &NotFoundError{Kind: "asset", ID: string(id)} }
func staffNotFound(id StaffID) error { return &NotFoundError{Kind: "staff", ID: string(id)} }
func partNotFound(id PartID) error   { return &NotFoundError{Kind: "part", ID: string(id)} }

// ArgumentError reports a malformed input value.
type ArgumentError struct {
	Field  string
	Detail string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

// TransitionError reports a status change the transition table forbids.
type TransitionError struct {
	AssetID AssetID
	From    AssetStatus
	To      AssetStatus
	Detail  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("asset %s: cannot transition from %s to %s", e.AssetID, e.From, e.To)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StateError reports an unmet precondition of a composite operation.
type StateError struct {
	AssetID AssetID
	Status  AssetStatus
	Want    AssetStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("asset %s is %s, expected %s", e.AssetID, e.Status, e.Want)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// ConflictError reports an exclusivity violation.
type ConflictError struct {
	AssetID   AssetID
	HeldBy    StaffID
	Requested StaffID
	Detail    string
}

func (e *ConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("asset %s: %s", e.AssetID, e.Detail)
	}
	return fmt.Sprintf("asset %s is already assigned to %s (requested %s)",
		e.AssetID, e.HeldBy, e.Requested)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	PartID    PartID
	Available int
	Requested int
	Shortfall int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for part %s: available %d, requested %d, shortfall %d",
		e.PartID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request rather than
// the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientStock)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
