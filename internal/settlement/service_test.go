package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vysogota0399/settlement_engine/internal/models"
)

func (s *fakeStore) Create(ctx context.Context, in *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in.CreatedAt = time.Now()
	s.transactions[in.UUID] = in

	return nil
}

func (s *fakeStore) SearchByAccountID(ctx context.Context, accountID string, page, perPage int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := []*models.Transaction{}
	for _, t := range s.transactions {
		if t.SourceAccountID == accountID || t.TargetAccountID == accountID {
			copied := *t
			found = append(found, &copied)
		}
	}

	return found, nil
}

func (s *fakeStore) FindByID(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}

	copied := *acc
	return &copied, nil
}

type fakeAuditWriter struct {
	records []*models.AuditRecord
}

func (f *fakeAuditWriter) Create(ctx context.Context, in *models.AuditRecord) error {
	f.records = append(f.records, in)
	return nil
}

type fakeInbox struct {
	requeued map[string]int64
}

func (f *fakeInbox) RequeueFailedForAccount(ctx context.Context, accountID string) (int64, error) {
	return f.requeued[accountID], nil
}

type fakeBalanceCache struct {
	values map[string]int64
	getErr error
}

func (f *fakeBalanceCache) Get(ctx context.Context, accountID string) (int64, bool, error) {
	if f.getErr != nil {
		return 0, false, f.getErr
	}

	balance, hit := f.values[accountID]
	return balance, hit, nil
}

func (f *fakeBalanceCache) Set(ctx context.Context, accountID string, balance int64) error {
	f.values[accountID] = balance
	return nil
}

type serviceFixture struct {
	service *Service
	store   *fakeStore
	audit   *fakeAuditWriter
	inbox   *fakeInbox
	cache   *fakeBalanceCache
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := newFakeStore()
	lg := testLogger(t)
	cfg := &Config{
		AdmissionTimeout:          2000,
		IdempotencyRetentionHours: 24,
		TransientRetryBase:        1,
		TransientRetryAttempts:    1,
		HistoryPerPage:            50,
	}

	processor, _ := newTestProcessor(t, store)
	audit := &fakeAuditWriter{}
	inbox := &fakeInbox{requeued: map[string]int64{}}
	cache := &fakeBalanceCache{values: map[string]int64{}}

	return &serviceFixture{
		service: NewService(cfg, NewGuard(cfg, store, lg), processor, store, store, inbox, audit, cache, lg),
		store:   store,
		audit:   audit,
		inbox:   inbox,
		cache:   cache,
	}
}

func TestCreateTransactionSettlesSynchronously(t *testing.T) {
	f := newServiceFixture(t)
	seedAccount(f.store, "acc-a", 1000)
	seedAccount(f.store, "acc-b", 500)

	result, err := f.service.CreateTransaction(context.Background(), CreateTransactionParams{
		IdempotencyKey:  "k1",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          300,
		Type:            models.TransactionTypePIX,
	})
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, models.TransactionStatusSettled, result.Status)
	assert.Equal(t, int64(700), f.store.accounts["acc-a"].Balance)
	assert.Equal(t, int64(800), f.store.accounts["acc-b"].Balance)
}

func TestCreateTransactionDuplicateKey(t *testing.T) {
	f := newServiceFixture(t)
	seedAccount(f.store, "acc-a", 1000)
	seedAccount(f.store, "acc-b", 500)

	params := CreateTransactionParams{
		IdempotencyKey:  "k1",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          300,
		Type:            models.TransactionTypePIX,
	}

	first, err := f.service.CreateTransaction(context.Background(), params)
	require.NoError(t, err)

	// Re-submissions replay the recorded result instead of settling again.
	for i := 0; i < 3; i++ {
		again, err := f.service.CreateTransaction(context.Background(), params)
		require.NoError(t, err)

		assert.True(t, again.Duplicate)
		assert.Equal(t, first.TransactionUUID, again.TransactionUUID)
		assert.Equal(t, models.TransactionStatusSettled, again.Status)
	}

	assert.Equal(t, int64(700), f.store.accounts["acc-a"].Balance)
	assert.Equal(t, int64(800), f.store.accounts["acc-b"].Balance)
	assert.Equal(t, 1, f.store.settledOutboxCount(first.TransactionUUID))
}

func TestCreateTransactionKeyReuseWithDifferentPayload(t *testing.T) {
	f := newServiceFixture(t)
	seedAccount(f.store, "acc-a", 1000)
	seedAccount(f.store, "acc-b", 500)

	params := CreateTransactionParams{
		IdempotencyKey:  "k1",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          300,
		Type:            models.TransactionTypePIX,
	}

	_, err := f.service.CreateTransaction(context.Background(), params)
	require.NoError(t, err)

	params.Amount = 400
	_, err = f.service.CreateTransaction(context.Background(), params)
	assert.ErrorIs(t, err, models.ErrIdempotencyConflict)
}

func TestCreateTransactionValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreateTransactionParams)
	}{
		{name: "missing idempotency key", mutate: func(p *CreateTransactionParams) { p.IdempotencyKey = "" }},
		{name: "zero amount", mutate: func(p *CreateTransactionParams) { p.Amount = 0 }},
		{name: "negative amount", mutate: func(p *CreateTransactionParams) { p.Amount = -5 }},
		{name: "unknown type", mutate: func(p *CreateTransactionParams) { p.Type = "WIRE" }},
		{name: "self transfer", mutate: func(p *CreateTransactionParams) { p.TargetAccountID = p.SourceAccountID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			seedAccount(f.store, "acc-a", 1000)
			seedAccount(f.store, "acc-b", 500)

			params := CreateTransactionParams{
				IdempotencyKey:  "k1",
				SourceAccountID: "acc-a",
				TargetAccountID: "acc-b",
				Amount:          300,
				Type:            models.TransactionTypePIX,
			}
			tt.mutate(&params)

			_, err := f.service.CreateTransaction(context.Background(), params)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestGetTransaction(t *testing.T) {
	f := newServiceFixture(t)
	seedTransaction(f.store, &models.Transaction{
		UUID:            "tx-1",
		SourceAccountID: "acc-a",
		TargetAccountID: "acc-b",
		Amount:          300,
		Type:            models.TransactionTypePIX,
		IdempotencyKey:  "k1",
	})

	found, err := f.service.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", found.UUID)

	_, err = f.service.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestTriggerReconciliation(t *testing.T) {
	f := newServiceFixture(t)
	f.inbox.requeued["acc-a"] = 2

	require.NoError(t, f.service.TriggerReconciliation(context.Background(), "acc-a"))

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.AuditActionReconciliationTriggered, f.audit.records[0].Action)
	assert.Equal(t, "operator", f.audit.records[0].Actor)
}

func TestAccountBalance(t *testing.T) {
	f := newServiceFixture(t)
	seedAccount(f.store, "acc-a", 1000)

	t.Run("miss reads the store and warms the cache", func(t *testing.T) {
		balance, err := f.service.AccountBalance(context.Background(), "acc-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance)
		assert.Equal(t, int64(1000), f.cache.values["acc-a"])
	})

	t.Run("hit skips the store", func(t *testing.T) {
		f.cache.values["acc-a"] = 777

		balance, err := f.service.AccountBalance(context.Background(), "acc-a")
		require.NoError(t, err)
		assert.Equal(t, int64(777), balance)
	})

	t.Run("cache failure falls through to the store", func(t *testing.T) {
		f.cache.getErr = fmt.Errorf("connection refused")

		balance, err := f.service.AccountBalance(context.Background(), "acc-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance)
	})

	t.Run("unknown account", func(t *testing.T) {
		f.cache.getErr = nil

		_, err := f.service.AccountBalance(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
	})
}
