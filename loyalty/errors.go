/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can branch with
  errors.Is and still extract context with errors.As.

ERROR CATEGORIES:
  1. Client errors - validation, not found, forbidden
  2. Business rule violations - already redeemed, insufficient balance,
     out of stock, invalid state transition
  3. Storage contention - retryable, never caused by the caller

USAGE:
    _, err := engine.Vouchers.Redeem(ctx, code, user)
    var already *loyalty.AlreadyRedeemedError
    if errors.As(err, &already) {
        ...
    }

SEE ALSO:
  - uow.go: Retries ErrStorageConflict once
  - api/errors.go: HTTP status mapping
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
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrAlreadyRedeemed is returned for a second redemption of a voucher.
	ErrAlreadyRedeemed = errors.New("voucher already redeemed")

	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrOutOfStock = errors.New("reward out of stock")

	// ErrConflict is returned when a redemption request is no longer pending.
	ErrConflict = errors.New("invalid state transition")

	ErrForbidden = errors.New("forbidden")

	// ErrStorageConflict signals lock contention, serialization failure or a
	// lost optimistic version check. The whole unit of work may be retried.
	ErrStorageConflict = errors.New("storage conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing record, e.g. Kind "voucher".
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type AlreadyRedeemedError struct {
	Code VoucherCode
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("voucher %s already redeemed", e.Code)
}

func (e *AlreadyRedeemedError) Unwrap() error { return ErrAlreadyRedeemed }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Points
	Requested Points
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

type OutOfStockError struct {
	RewardID RewardID
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("reward %s is out of stock", e.RewardID)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// ConflictError reports a transition attempted from a terminal status.
type ConflictError struct {
	RequestID RequestID
	Status    RequestStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("redemption request %s is already %s", e.RequestID, e.Status)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type ForbiddenError struct {
	NotificationID NotificationID
	Caller         Caller
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("notification %s does not belong to caller %q", e.NotificationID, e.Caller.UserID)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}

// IsClientError returns true if the error is due to the request itself
// rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
