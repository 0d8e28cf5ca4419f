package models

import (
	"fmt"
	"time"
)

const (
	TransactionStatusPending    = "PENDING"
	TransactionStatusProcessing = "PROCESSING"
	TransactionStatusSettled    = "SETTLED"
	TransactionStatusFailed     = "FAILED"
)

const (
	TransactionTypePIX = "PIX"
	TransactionTypeTED = "TED"
	TransactionTypeDOC = "DOC"
)

type Transaction struct {
	UUID            string
	SourceAccountID string
	TargetAccountID string
	Amount          int64
	Type            string
	Status          string
	Reason          string
	IdempotencyKey  string
	CorrelationID   string
	ManualReview    bool
	ConfirmedAt     *time.Time
	ExternalRef     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func KnownTransactionType(t string) bool {
	switch t {
	case TransactionTypePIX, TransactionTypeTED, TransactionTypeDOC:
		return true
	}

	return false
}

func (t *Transaction) Terminal() bool {
	return t.Status == TransactionStatusSettled || t.Status == TransactionStatusFailed
}

// ValidTransition enforces the one-directional lifecycle
// PENDING -> PROCESSING -> {SETTLED, FAILED}. Terminal states are immutable.
func ValidTransition(from, to string) bool {
	switch from {
	case TransactionStatusPending:
		return to == TransactionStatusProcessing || to == TransactionStatusFailed
	case TransactionStatusProcessing:
		return to == TransactionStatusSettled || to == TransactionStatusFailed
	}

	return false
}

func (t *Transaction) Validate() error {
	if t.SourceAccountID == "" || t.TargetAccountID == "" {
		return fmt.Errorf("models/transaction: account ids are required %w", ErrValidation)
	}

	if t.SourceAccountID == t.TargetAccountID {
		return fmt.Errorf("models/transaction: source and target must differ %w", ErrValidation)
	}

	if t.Amount <= 0 {
		return fmt.Errorf("models/transaction: amount must be positive %w", ErrValidation)
	}

	if !KnownTransactionType(t.Type) {
		return fmt.Errorf("models/transaction: unknown type %s %w", t.Type, ErrValidation)
	}

	if t.IdempotencyKey == "" {
		return fmt.Errorf("models/transaction: idempotency key is required %w", ErrValidation)
	}

	return nil
}
