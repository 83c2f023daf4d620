/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against
  the sentinels; structured types carry context and Unwrap to a sentinel.

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected before any state change
  2. Settlement/lifecycle errors - Mutations against closed records
  3. Recalculation errors - Storage faults during a suffix rewrite (retryable)
  4. Consistency errors - A stored running balance disagrees with the
     left-fold. Fatal; logged, never silently auto-corrected.

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
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
	// ErrInvalidAmount is returned for a zero or negative entry magnitude.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidDate is returned for a future-dated entry or one before the
	// customer's opening balance date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrCustomerSettled is returned when mutating a settled customer's
	// ledger. Permanent until the customer is un-settled elsewhere.
	ErrCustomerSettled = errors.New("customer is settled")

	// ErrCustomerNotFound is returned when a referenced customer doesn't exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrCustomerDeleted is returned when mutating a soft-deleted customer.
	ErrCustomerDeleted = errors.New("customer is deleted")

	// ErrEntryNotFound is returned when a referenced entry doesn't exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrEntryDeleted is returned when mutating an already soft-deleted entry.
	ErrEntryDeleted = errors.New("entry is deleted")

	// ErrRecalculationFailed signals a storage fault during a suffix
	// rewrite. The whole mutation rolled back; safe to retry.
	ErrRecalculationFailed = errors.New("balance recalculation failed")

	// ErrInconsistentLedger signals a stored running balance that
	// disagrees with the recalculation rule. Should never surface in
	// correct operation.
	ErrInconsistentLedger = errors.New("ledger balance inconsistency")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports rejected input. Nothing was changed.
type ValidationError struct {
	Field  string
	Reason string
	err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.err }

func invalidAmount(reason string) *ValidationError {
	return &ValidationError{Field: "amount", Reason: reason, err: ErrInvalidAmount}
}

func invalidDate(reason string) *ValidationError {
	return &ValidationError{Field: "date", Reason: reason, err: ErrInvalidDate}
}

// SettledCustomerError identifies which customer blocked the mutation.
type SettledCustomerError struct {
	CustomerID string
}

func (e *SettledCustomerError) Error() string {
	return fmt.Sprintf("customer %s is settled: ledger is closed to mutations", e.CustomerID)
}

func (e *SettledCustomerError) Unwrap() error { return ErrCustomerSettled }

// RecalculationError wraps a storage fault during a suffix rewrite.
// The mutation was rolled back in its entirety.
type RecalculationError struct {
	CustomerID string
	Start      Position
	Cause      error
}

func (e *RecalculationError) Error() string {
	return fmt.Sprintf("recalculation for customer %s from (%s, %d) failed: %v",
		e.CustomerID, e.Start.Date, e.Start.ID, e.Cause)
}

func (e *RecalculationError) Unwrap() error { return ErrRecalculationFailed }

// ConsistencyError reports a stored running balance that disagrees with
// the left-fold recomputation.
type ConsistencyError struct {
	CustomerID string
	EntryID    EntryID
	Stored     Amount
	Expected   Amount
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("entry %d of customer %s: stored balance %s, recomputed %s",
		e.EntryID, e.CustomerID, e.Stored, e.Expected)
}

func (e *ConsistencyError) Unwrap() error { return ErrInconsistentLedger }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a lifecycle rule, i.e. resubmitting corrected input can succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrCustomerSettled) ||
		errors.Is(err, ErrCustomerDeleted) ||
		errors.Is(err, ErrEntryDeleted)
}

// IsRetryable returns true if the same request might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRecalculationFailed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}
