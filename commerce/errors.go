/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with the helpers at the bottom rather than
  matching strings.

ERROR CATEGORIES:
  1. Business-rule rejections - surfaced verbatim to the caller, never retried
  2. Concurrency errors - version conflicts retried internally, then surfaced
  3. Store errors - not-found and persistence failures

USAGE:
  if errors.Is(err, commerce.ErrInsufficientStock) {
      var stockErr *commerce.InsufficientStockError
      errors.As(err, &stockErr) // stockErr.Available for the user message
  }
*/
package commerce

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSaleRequest is returned for malformed sale submissions:
	// empty line-item list, non-positive quantities, missing credit account.
	ErrInvalidSaleRequest = errors.New("invalid sale request")

	// ErrInsufficientStock is returned when a decrement exceeds quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCreditLimitExceeded is returned when a purchase posting would push
	// the balance above the credit limit.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")

	// ErrCreditAccountInactive is returned when posting against a suspended
	// or cancelled account.
	ErrCreditAccountInactive = errors.New("credit account inactive")

	// ErrPaymentExceedsBalance is returned when a payment would push the
	// balance below zero.
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")

	// ErrVersionConflict is returned by stores when a compare-and-set write
	// observes a stale version. Retried internally by the ledgers.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConcurrentModification is surfaced after the internal retry budget
	// for version conflicts is exhausted.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAuditWriteFailed marks a failed audit append. Logged, never used to
	// roll back the already-committed primary change.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// ErrSaleAlreadyVoided is returned when voiding a sale twice. The second
	// call has no observable effect.
	ErrSaleAlreadyVoided = errors.New("sale already voided")

	// ErrInvalidStatusTransition is returned for disallowed sale or account
	// status changes.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrInvalidCreditLimit is returned for negative credit limits.
	ErrInvalidCreditLimit = errors.New("credit limit must not be negative")

	// ErrInvalidAdjustment is returned for adjustments with a non-positive
	// quantity or an empty reason.
	ErrInvalidAdjustment = errors.New("invalid stock adjustment")

	// ErrBalanceChainBroken is returned by chain verification when replaying
	// an account's transactions does not reproduce its balance.
	ErrBalanceChainBroken = errors.New("credit transaction chain broken")

	// ErrAccountExists is returned by stores when inserting a credit account
	// whose id or (owner, counterparty) pair is already taken. EnsureAccount
	// resolves the race by returning the existing account.
	ErrAccountExists = errors.New("credit account already exists")

	ErrProductNotFound = errors.New("product not found")
	ErrSaleNotFound    = errors.New("sale not found")
	ErrAccountNotFound = errors.New("credit account not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry actionable context for the caller
// =============================================================================

// InsufficientStockError reports how much stock remains so the caller can
// show an actionable message.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// CreditLimitError reports the available credit so the caller can show an
// actionable message.
type CreditLimitError struct {
	AccountID AccountID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for account %s: requested %s, available %s",
		e.AccountID, e.Requested, e.Available)
}

func (e *CreditLimitError) Unwrap() error { return ErrCreditLimitExceeded }

// PaymentExceedsBalanceError reports the outstanding balance a payment
// overshot.
type PaymentExceedsBalanceError struct {
	AccountID AccountID
	Payment   decimal.Decimal
	Balance   decimal.Decimal
}

func (e *PaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment %s exceeds balance %s on account %s",
		e.Payment, e.Balance, e.AccountID)
}

func (e *PaymentExceedsBalanceError) Unwrap() error { return ErrPaymentExceedsBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on an immediate retry
// with a fresh read. Only version conflicts qualify; business rejections
// must never be silently retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsClientError returns true if the error is a business-rule rejection or
// invalid input, i.e. the caller's problem rather than the system's.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSaleRequest) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrCreditLimitExceeded) ||
		errors.Is(err, ErrCreditAccountInactive) ||
		errors.Is(err, ErrPaymentExceedsBalance) ||
		errors.Is(err, ErrSaleAlreadyVoided) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrInvalidCreditLimit) ||
		errors.Is(err, ErrInvalidAdjustment)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}
