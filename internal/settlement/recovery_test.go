package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/vysogota0399/settlement_engine/internal/models"
)

func (s *fakeStore) StuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stuck := []*models.Transaction{}
	for _, t := range s.transactions {
		if t.Status == models.TransactionStatusProcessing && t.UpdatedAt.Before(olderThan) {
			copied := *t
			stuck = append(stuck, &copied)
		}

		if len(stuck) == limit {
			break
		}
	}

	return stuck, nil
}

func TestSweepRecoversStuckTransactions(t *testing.T) {
	store := newFakeStore()
	seedAccount(store, "acc-a", 1000)
	seedAccount(store, "acc-b", 500)

	// Stuck with commit evidence: recovered as SETTLED.
	committed := seedTransaction(store, &models.Transaction{
		UUID:            "tx-committed",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          300,
		Type:            models.TransactionTypePIX,
		IdempotencyKey:  "k-committed",
	})
	committed.Status = models.TransactionStatusProcessing
	committed.UpdatedAt = time.Now().Add(-time.Hour)
	store.audits = append(store.audits, &models.AuditRecord{
		TransactionUUID: "tx-committed",
		Action:          models.AuditActionTransactionSettled,
	})

	// Stuck without commit evidence: recovered as FAILED.
	abandoned := seedTransaction(store, &models.Transaction{
		UUID:            "tx-abandoned",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          100,
		Type:            models.TransactionTypePIX,
		IdempotencyKey:  "k-abandoned",
	})
	abandoned.Status = models.TransactionStatusProcessing
	abandoned.UpdatedAt = time.Now().Add(-time.Hour)

	// Fresh PROCESSING stays untouched.
	inFlight := seedTransaction(store, &models.Transaction{
		UUID:            "tx-in-flight",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          50,
		Type:            models.TransactionTypePIX,
		IdempotencyKey:  "k-in-flight",
	})
	inFlight.Status = models.TransactionStatusProcessing
	inFlight.UpdatedAt = time.Now()

	// Expired reservation is purged by the same sweep.
	store.idempotency["k-expired"] = &models.IdempotencyRecord{
		Key:       "k-expired",
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	processor, _ := newTestProcessor(t, store)
	cfg := &Config{
		RecoveryPollInterval:     5000,
		RecoveryWorkersCount:     2,
		RecoveryBatchSize:        100,
		ProcessingTimeoutSeconds: 60,
	}
	dmn := NewRecoveryDaemon(fxtest.NewLifecycle(t), cfg, processor, store, store, testLogger(t))

	require.NoError(t, dmn.sweep(context.Background()))

	assert.Equal(t, models.TransactionStatusSettled, store.transactions["tx-committed"].Status)
	assert.Equal(t, models.TransactionStatusFailed, store.transactions["tx-abandoned"].Status)
	assert.Equal(t, models.TransactionStatusProcessing, store.transactions["tx-in-flight"].Status)

	assert.Equal(t, 1, store.settledOutboxCount("tx-committed"))

	_, purged := store.idempotency["k-expired"]
	assert.False(t, purged)
}
