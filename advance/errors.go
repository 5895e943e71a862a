/*
errors.go - Centralized error types for the advance package

PURPOSE:
  All error types in one place. Settlement validation failures are typed and
  cause no state mutation; the API layer maps them with errors.Is.

ERROR CATEGORIES:
  1. Validation errors - non-positive amount, cap violations
  2. Not-found errors - advance, recurrence, transfer
  3. Concurrency - optimistic update conflicts

SEE ALSO:
  - settlement.go: Returns these from ApplyPayment
  - repair.go: Returns ErrNoRecurrence from RecoverAdvance
*/
package advance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNonPositiveAmount is returned when a payment amount is zero or negative.
	ErrNonPositiveAmount = errors.New("payment amount must be positive")

	// ErrExceedsBalance is returned when a payment exceeds the advance's
	// remaining balance.
	ErrExceedsBalance = errors.New("payment exceeds advance balance")

	// ErrExceedsDiscount is returned when a fortnight-funded payment exceeds
	// the broker's available fortnight discount.
	ErrExceedsDiscount = errors.New("payment exceeds available fortnight discount")

	// ErrExceedsTransfer is returned when an externally funded payment exceeds
	// the transfer's remaining balance.
	ErrExceedsTransfer = errors.New("payment exceeds transfer remaining balance")

	// ErrUnknownPaymentType is returned for a payment type outside the
	// fortnight/external_transfer/cash set.
	ErrUnknownPaymentType = errors.New("unknown payment type")

	// ErrAdvanceNotFound is returned when a referenced advance doesn't exist.
	ErrAdvanceNotFound = errors.New("advance not found")

	// ErrTransferNotFound is returned when a transfer reference doesn't exist.
	ErrTransferNotFound = errors.New("bank transfer not found")

	// ErrNoRecurrence is returned when recovering an advance whose recurrence
	// is missing or inactive.
	ErrNoRecurrence = errors.New("no active recurrence configured")

	// ErrNotRejectable is returned when rejecting an advance that has left
	// PENDING. Rejection is only valid before any payment applies.
	ErrNotRejectable = errors.New("advance is not in a rejectable state")

	// ErrDuplicateReference is returned when registering a transfer whose
	// reference number already exists.
	ErrDuplicateReference = errors.New("duplicate transfer reference")

	// ErrConcurrentModification is returned when the optimistic balance update
	// detects a concurrent writer. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapError reports a settlement cap violation: which cap, what was available,
// what was requested.
type CapError struct {
	AdvanceID string
	Available decimal.Decimal
	Requested decimal.Decimal
	Cap       error // ErrExceedsBalance, ErrExceedsDiscount, or ErrExceedsTransfer
}

func (e *CapError) Error() string {
	return fmt.Sprintf("%v: available %s, requested %s (advance %s)",
		e.Cap, e.Available, e.Requested, e.AdvanceID)
}

func (e *CapError) Unwrap() error { return e.Cap }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrExceedsBalance) ||
		errors.Is(err, ErrExceedsDiscount) ||
		errors.Is(err, ErrExceedsTransfer) ||
		errors.Is(err, ErrUnknownPaymentType) ||
		errors.Is(err, ErrNotRejectable)
}

// IsConflict returns true if the error indicates the request collides with
// existing state (duplicate reference, lost optimistic update).
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAdvanceNotFound) ||
		errors.Is(err, ErrTransferNotFound) ||
		errors.Is(err, ErrNoRecurrence)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
