/*
errors.go - Centralized error kinds for the loyalty engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is; the HTTP
  layer maps them to status codes with the helpers at the bottom.

ERROR CATEGORIES:
  1. Business-rule rejections - deterministic, retry only after the caller
     fixes the input or state (inactive member, insufficient cashback).
  2. Validation errors - rejected before any write reaches the store.
  3. Store errors - collaborator failure; the operation either compensated
     or never started, so state is consistent and a retry is safe.
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMemberNotFound is returned when the referenced member does not exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrMembershipInactive is returned when a lapsed member attempts to
	// spend cashback. Legacy balance does not override the membership gate.
	ErrMembershipInactive = errors.New("membership inactive")

	// ErrInvalidAmount is returned for non-positive or out-of-range
	// monetary input. Raised before any ledger mutation.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientCashback is returned when a spend exceeds the usable
	// balance as of the purchase instant.
	ErrInsufficientCashback = errors.New("insufficient cashback")

	// ErrNoPaymentToUndo is returned by undo when the member has no
	// payment history left to roll back.
	ErrNoPaymentToUndo = errors.New("no membership payment to undo")

	// ErrStoreUnavailable wraps persistence failures (timeouts, write
	// conflicts). The engine compensates partial writes before surfacing it.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCashbackError reports how far a spend overshot the balance.
type InsufficientCashbackError struct {
	MemberID  MemberID
	Available Money
	Requested Money
}

func (e *InsufficientCashbackError) Error() string {
	return fmt.Sprintf("insufficient cashback: available %s, requested %s, short %s",
		e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientCashbackError) Unwrap() error { return ErrInsufficientCashback }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is a deterministic rejection of
// the caller's input or state, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMembershipInactive) ||
		errors.Is(err, ErrInsufficientCashback) ||
		errors.Is(err, ErrNoPaymentToUndo)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound)
}

// IsRetryable reports whether the same call might succeed without any
// change by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// storeFailure tags a persistence error with ErrStoreUnavailable so
// callers can branch on the kind while keeping the cause in the chain.
func storeFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
