package app

import (
	"errors"
	"fmt"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/store"
)

// Error kinds. Every error returned by the Service matches exactly one of these with
// errors.Is, except duplicate commission keys, which are not errors at all.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrStorage           = errors.New("storage error")
)

// ledgerError is a named error that belongs to one kind.
type ledgerError struct {
	kind error
	msg  string
}

func (e *ledgerError) Error() string { return e.msg }
func (e *ledgerError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &ledgerError{kind: kind, msg: msg}
}

var (
	ErrInvalidInput        = newError(ErrValidation, "invalid input")
	ErrInvalidAmount       = newError(ErrValidation, "amount must be positive")
	ErrUnknownCode         = newError(ErrValidation, "referral code does not resolve to an account")
	ErrSelfReferral        = newError(ErrValidation, "an account cannot refer itself")
	ErrBelowMinimum        = newError(ErrValidation, "amount is below the minimum withdrawal")
	ErrMissingPayoutMethod = newError(ErrValidation, "payout method is required")
	ErrAccountKindMismatch = newError(ErrValidation, "account exists with a different kind")
	ErrAccountNotFound     = newError(ErrValidation, "account not found")

	ErrRequestNotFound    = newError(ErrNotFound, "withdrawal request not found")
	ErrCommissionNotFound = newError(ErrNotFound, "commission entry not found")

	ErrAlreadyReferred        = newError(ErrConflict, "account already has a referrer")
	ErrReferralCycle          = newError(ErrConflict, "referral would make an account its own ancestor")
	ErrReferralCodeTaken      = newError(ErrConflict, "referral code already in use")
	ErrInvalidStateTransition = newError(ErrConflict, "invalid state transition")

	ErrInsufficientBalance = newError(ErrInsufficientFunds, "insufficient available balance")
)

// StorageError wraps a transaction or connectivity failure. The caller may retry the
// whole operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// RateLimitError carries how long the caller should wait before retrying.
type RateLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many %s requests; retry after %ds", e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// invalidf returns a validation error with a specific message.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// translateStoreError maps repository sentinels onto service errors. Anything it does
// not recognise is a storage failure.
func translateStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	case errors.Is(err, store.ErrAlreadyReferred):
		return fmt.Errorf("%s: %w", op, ErrAlreadyReferred)
	case errors.Is(err, store.ErrReferralCycle):
		return fmt.Errorf("%s: %w", op, ErrReferralCycle)
	case errors.Is(err, store.ErrReferralCodeTaken):
		return fmt.Errorf("%s: %w", op, ErrReferralCodeTaken)
	case errors.Is(err, store.ErrCommissionNotFound):
		return fmt.Errorf("%s: %w", op, ErrCommissionNotFound)
	case errors.Is(err, store.ErrWithdrawalNotFound):
		return fmt.Errorf("%s: %w", op, ErrRequestNotFound)
	case errors.Is(err, store.ErrInsufficientFunds):
		return fmt.Errorf("%s: %w", op, ErrInsufficientBalance)
	case errors.Is(err, store.ErrInvalidTransition):
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidStateTransition, err)
	default:
		return &StorageError{Op: op, Err: err}
	}
}
