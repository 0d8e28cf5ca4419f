package outbox_relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

type fakeTx struct {
	pgx.Tx
}

type fakeOutbox struct {
	events    []*models.OutboxEvent
	committed bool
}

func (f *fakeOutbox) BeginTX(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

func (f *fakeOutbox) CommitTX(ctx context.Context, tx pgx.Tx) error {
	f.committed = true
	return nil
}

func (f *fakeOutbox) RollbackTX(ctx context.Context, tx pgx.Tx) error {
	return nil
}

func (f *fakeOutbox) UnpublishedBatchTX(ctx context.Context, tx pgx.Tx, limit int) ([]*models.OutboxEvent, error) {
	batch := []*models.OutboxEvent{}
	for _, e := range f.events {
		if e.PublishedAt == nil {
			batch = append(batch, e)
		}

		if len(batch) == limit {
			break
		}
	}

	return batch, nil
}

func (f *fakeOutbox) MarkPublishedTX(ctx context.Context, tx pgx.Tx, uuid string, publishedAt time.Time) error {
	for _, e := range f.events {
		if e.UUID == uuid {
			e.PublishedAt = &publishedAt
		}
	}

	return nil
}

func (f *fakeOutbox) IncrementAttemptsTX(ctx context.Context, tx pgx.Tx, uuid string) error {
	for _, e := range f.events {
		if e.UUID == uuid {
			e.Attempts++
		}
	}

	return nil
}

type fakePublisher struct {
	failures int
	messages []RelayMessage
	keys     []string
}

func (f *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	if f.failures > 0 {
		f.failures--
		return assert.AnError
	}

	var msg RelayMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return err
	}

	f.messages = append(f.messages, msg)
	f.keys = append(f.keys, key)

	return nil
}

func newTestDaemon(t *testing.T, outbox *fakeOutbox, publisher *fakePublisher) *Daemon {
	t.Helper()

	lg, err := logging.NewZapLogger(&config.Config{LogLevel: 2})
	require.NoError(t, err)

	cfg := &Config{
		PollInterval:    250,
		WorkersCount:    1,
		BatchSize:       10,
		PublishAttempts: 2,
		BackoffBase:     1,
		BackoffCap:      2,
	}

	return NewDaemon(fxtest.NewLifecycle(t), cfg, outbox, publisher, lg)
}

func outboxEvent(uuid, transactionUUID string) *models.OutboxEvent {
	return &models.OutboxEvent{
		UUID:            uuid,
		TransactionUUID: transactionUUID,
		EventType:       models.OutboxEventTransactionSettled,
		Payload: &models.SettlementEventPayload{
			TransactionUUID: transactionUUID,
			SourceAccountID: "acc-a",
			TargetAccountID: "acc-b",
			Amount:          300,
			Type:            models.TransactionTypePIX,
			Status:          models.TransactionStatusSettled,
		},
	}
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	outbox := &fakeOutbox{events: []*models.OutboxEvent{
		outboxEvent("e1", "tx-1"),
		outboxEvent("e2", "tx-2"),
	}}
	publisher := &fakePublisher{}
	dmn := newTestDaemon(t, outbox, publisher)

	require.NoError(t, dmn.processBatch(context.Background()))

	require.Len(t, publisher.messages, 2)
	// Partition key is the aggregate id so per-transaction order survives.
	assert.Equal(t, []string{"tx-1", "tx-2"}, publisher.keys)
	assert.Equal(t, "tx-1", publisher.messages[0].TransactionUUID)
	assert.Equal(t, models.OutboxEventTransactionSettled, publisher.messages[0].EventType)

	for _, e := range outbox.events {
		assert.NotNil(t, e.PublishedAt)
	}

	assert.True(t, outbox.committed)
}

func TestProcessBatchRetriesTransientBrokerFailure(t *testing.T) {
	outbox := &fakeOutbox{events: []*models.OutboxEvent{outboxEvent("e1", "tx-1")}}
	publisher := &fakePublisher{failures: 1}
	dmn := newTestDaemon(t, outbox, publisher)

	require.NoError(t, dmn.processBatch(context.Background()))

	require.Len(t, publisher.messages, 1)
	assert.NotNil(t, outbox.events[0].PublishedAt)
	assert.Equal(t, 0, outbox.events[0].Attempts)
}

func TestProcessBatchKeepsRowOnExhaustedRetries(t *testing.T) {
	outbox := &fakeOutbox{events: []*models.OutboxEvent{outboxEvent("e1", "tx-1")}}
	publisher := &fakePublisher{failures: 10}
	dmn := newTestDaemon(t, outbox, publisher)

	require.NoError(t, dmn.processBatch(context.Background()))

	assert.Empty(t, publisher.messages)
	assert.Nil(t, outbox.events[0].PublishedAt)
	assert.Equal(t, 1, outbox.events[0].Attempts)
	assert.True(t, outbox.committed)
}

func TestProcessBatchEmptyIsNoop(t *testing.T) {
	outbox := &fakeOutbox{}
	publisher := &fakePublisher{}
	dmn := newTestDaemon(t, outbox, publisher)

	require.NoError(t, dmn.processBatch(context.Background()))
	assert.Empty(t, publisher.messages)
	assert.False(t, outbox.committed)
}
