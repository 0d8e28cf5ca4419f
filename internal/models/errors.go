package models

import "errors"

// Business rejections settle the transaction as FAILED and are reported to
// the caller; they are never retried by the engine.
var (
	ErrValidation          = errors.New("validation error")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountBlocked      = errors.New("account blocked")
	ErrLimitDenied         = errors.New("limit denied")
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransientStore marks infrastructure failures that are retried at the
	// same processing step without advancing the state machine.
	ErrTransientStore = errors.New("transient store failure")
)

// BusinessRejection reports whether err is a terminal business outcome
// rather than a system fault.
func BusinessRejection(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds,
		ErrAccountNotFound,
		ErrAccountBlocked,
		ErrLimitDenied,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
