package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vysogota0399/settlement_engine/internal/models"
)

func TestCheckOperation(t *testing.T) {
	tests := []struct {
		name            string
		transactionType string
		amount          int64
		wantErr         error
	}{
		{name: "pix within ceiling", transactionType: models.TransactionTypePIX, amount: 500000},
		{name: "pix above ceiling", transactionType: models.TransactionTypePIX, amount: 500001, wantErr: models.ErrLimitDenied},
		{name: "ted within ceiling", transactionType: models.TransactionTypeTED, amount: 5000000},
		{name: "doc above ceiling", transactionType: models.TransactionTypeDOC, amount: 500000, wantErr: models.ErrLimitDenied},
		{name: "unknown type has no limit", transactionType: "WIRE", amount: 1, wantErr: models.ErrLimitDenied},
	}

	store := newFakeStore()
	checker := NewLimitChecker(store, store, testLogger(t))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.CheckOperation(context.Background(), tt.transactionType, tt.amount, time.Now())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestCheckDailyTX(t *testing.T) {
	store := newFakeStore()

	// 1,900,000 of the 2,000,000 PIX daily ceiling is already consumed.
	settled := seedTransaction(store, &models.Transaction{
		UUID:            "tx-used",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          1900000,
		Type:            models.TransactionTypePIX,
		IdempotencyKey:  "k-used",
	})
	settled.Status = models.TransactionStatusSettled

	checker := NewLimitChecker(store, store, testLogger(t))

	tx, err := store.BeginTX(context.Background(), pgx.TxOptions{})
	require.NoError(t, err)
	defer store.RollbackTX(context.Background(), tx)

	t.Run("fits remaining headroom", func(t *testing.T) {
		err := checker.CheckDailyTX(context.Background(), tx, &models.Transaction{
			UUID:            "tx-new",
			SourceAccountID: "acc-a",
			Amount:          100000,
			Type:            models.TransactionTypePIX,
		}, time.Now())
		assert.NoError(t, err)
	})

	t.Run("exceeds remaining headroom", func(t *testing.T) {
		err := checker.CheckDailyTX(context.Background(), tx, &models.Transaction{
			UUID:            "tx-new",
			SourceAccountID: "acc-a",
			Amount:          100001,
			Type:            models.TransactionTypePIX,
		}, time.Now())
		assert.ErrorIs(t, err, models.ErrLimitDenied)
	})

	t.Run("does not count its own processing row", func(t *testing.T) {
		processing := seedTransaction(store, &models.Transaction{
			UUID:            "tx-self",
			SourceAccountID: "acc-a",
			TargetAccountID: "acc-b",
			Amount:          100000,
			Type:            models.TransactionTypePIX,
			IdempotencyKey:  "k-self",
		})
		processing.Status = models.TransactionStatusProcessing

		err := checker.CheckDailyTX(context.Background(), tx, processing, time.Now())
		assert.NoError(t, err)
	})

	t.Run("other account is unaffected", func(t *testing.T) {
		err := checker.CheckDailyTX(context.Background(), tx, &models.Transaction{
			UUID:            "tx-new",
			SourceAccountID: "acc-c",
			Amount:          2000000,
			Type:            models.TransactionTypePIX,
		}, time.Now())
		assert.NoError(t, err)
	})
}
