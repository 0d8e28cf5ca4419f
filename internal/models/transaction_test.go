package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionValidate(t *testing.T) {
	valid := func() *Transaction {
		return &Transaction{
			SourceAccountID: "acc-a",
			TargetAccountID: "acc-b",
			Amount:          100,
			Type:            TransactionTypePIX,
			IdempotencyKey:  "k1",
		}
	}

	tests := []struct {
		name    string
		mutate  func(tr *Transaction)
		invalid bool
	}{
		{name: "valid pix", mutate: func(tr *Transaction) {}},
		{name: "valid ted", mutate: func(tr *Transaction) { tr.Type = TransactionTypeTED }},
		{name: "valid doc", mutate: func(tr *Transaction) { tr.Type = TransactionTypeDOC }},
		{name: "missing source", mutate: func(tr *Transaction) { tr.SourceAccountID = "" }, invalid: true},
		{name: "missing target", mutate: func(tr *Transaction) { tr.TargetAccountID = "" }, invalid: true},
		{name: "self transfer", mutate: func(tr *Transaction) { tr.TargetAccountID = tr.SourceAccountID }, invalid: true},
		{name: "zero amount", mutate: func(tr *Transaction) { tr.Amount = 0 }, invalid: true},
		{name: "negative amount", mutate: func(tr *Transaction) { tr.Amount = -1 }, invalid: true},
		{name: "unknown type", mutate: func(tr *Transaction) { tr.Type = "WIRE" }, invalid: true},
		{name: "missing idempotency key", mutate: func(tr *Transaction) { tr.IdempotencyKey = "" }, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := valid()
			tt.mutate(tr)

			err := tr.Validate()
			if tt.invalid {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{TransactionStatusPending, TransactionStatusProcessing, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusPending, TransactionStatusSettled, false},
		{TransactionStatusProcessing, TransactionStatusSettled, true},
		{TransactionStatusProcessing, TransactionStatusFailed, true},
		{TransactionStatusProcessing, TransactionStatusPending, false},
		{TransactionStatusSettled, TransactionStatusFailed, false},
		{TransactionStatusSettled, TransactionStatusPending, false},
		{TransactionStatusFailed, TransactionStatusSettled, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}

func TestTransactionTerminal(t *testing.T) {
	assert.False(t, (&Transaction{Status: TransactionStatusPending}).Terminal())
	assert.False(t, (&Transaction{Status: TransactionStatusProcessing}).Terminal())
	assert.True(t, (&Transaction{Status: TransactionStatusSettled}).Terminal())
	assert.True(t, (&Transaction{Status: TransactionStatusFailed}).Terminal())
}
