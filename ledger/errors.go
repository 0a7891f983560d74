/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All engine and workflow errors in one place for consistency and
  discoverability. Handlers map these to HTTP status codes.

ERROR CATEGORIES:
  1. Balance errors - quota/points/stock shortfalls
  2. Lookup errors - missing users/rewards/requests
  3. Workflow errors - invalid state transitions
  4. Validation errors - malformed or incomplete input

PROPAGATION POLICY:
  Validate fully before any mutation; on any failure, mutate nothing.
  Nothing is retried automatically - the caller surfaces the message.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientQuota) { ... }

  var shortfall *ledger.InsufficientQuotaError
  if errors.As(err, &shortfall) { ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientQuota is returned when a give exceeds the giver's
	// remaining quota for the period.
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrInsufficientPoints is returned when a redemption exceeds the
	// redeemer's points balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrOutOfStock is returned when the reward has no remaining stock.
	ErrOutOfStock = errors.New("reward out of stock")

	// ErrRewardInactive is returned when redeeming an inactive catalog item.
	ErrRewardInactive = errors.New("reward inactive")

	// ErrInvalidStateTransition is returned when a workflow transition's
	// precondition does not hold. State is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRewardNotFound is returned when a referenced reward doesn't exist.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrRequestNotFound is returned when a redemption request doesn't exist.
	ErrRequestNotFound = errors.New("redemption request not found")

	// ErrTransactionNotFound is returned when a ledger entry doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrValidation is returned for malformed or incomplete input
	// (non-positive amounts, self-gives, missing shipping fields).
	ErrValidation = errors.New("validation failed")

	// ErrHasHistory is returned when deleting a user or reward that the
	// ledger still references. History wins; archive instead.
	ErrHasHistory = errors.New("record is referenced by ledger history")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientQuotaError reports a quota shortfall on a give.
type InsufficientQuotaError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("insufficient quota for %s: available %s, requested %s",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientQuotaError) Unwrap() error { return ErrInsufficientQuota }

// InsufficientPointsError reports a balance shortfall on a redemption.
type InsufficientPointsError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for %s: available %s, requested %s",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// StateTransitionError reports a rejected workflow transition.
type StateTransitionError struct {
	RequestID RequestID
	From      string
	To        string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot transition from %s to %s",
		e.RequestID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// ValidationError reports a specific invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a business-rule rejection (HTTP 4xx territory).
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientQuota) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrRewardInactive) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrHasHistory)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
