package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"github.com/vysogota0399/settlement_engine/internal/storage"
)

type OutboxRepository struct {
	strg OutboxStorage
	lg   *logging.ZapLogger
}

type OutboxStorage interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewOutboxRepository(strg *storage.Storage, lg *logging.ZapLogger) *OutboxRepository {
	return &OutboxRepository{strg: strg.DB, lg: lg}
}

// CreateTX is the only write path for outbox rows: they exist if and only if
// the surrounding settlement transaction committed. The unique
// (transaction_uuid, event_type) constraint makes a recovery rewrite safe.
func (rep *OutboxRepository) CreateTX(ctx context.Context, tx pgx.Tx, in *models.OutboxEvent) error {
	if _, err := tx.Exec(
		ctx,
		`
			INSERT INTO outbox_events(uuid, transaction_uuid, event_type, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (transaction_uuid, event_type) DO NOTHING
		`,
		in.UUID, in.TransactionUUID, in.EventType, in.Payload,
	); err != nil {
		return fmt.Errorf("outbox_repository: create event error %w", err)
	}

	return nil
}

func (rep *OutboxRepository) ExistsForTransaction(ctx context.Context, transactionUUID, eventType string) (bool, error) {
	row := rep.strg.QueryRow(
		ctx,
		`SELECT 1 FROM outbox_events WHERE transaction_uuid = $1 AND event_type = $2 LIMIT 1`,
		transactionUUID, eventType,
	)

	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("outbox_repository: check event error %w", err)
	}

	return true, nil
}

// UnpublishedBatchTX reserves up to limit unpublished rows in creation order
// under the caller's transaction. SKIP LOCKED keeps concurrent relay workers
// off each other's rows.
func (rep *OutboxRepository) UnpublishedBatchTX(ctx context.Context, tx pgx.Tx, limit int) ([]*models.OutboxEvent, error) {
	rows, err := tx.Query(
		ctx,
		`
			SELECT uuid, transaction_uuid, event_type, payload, attempts, created_at
			FROM outbox_events
			WHERE NOT published
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox_repository: query unpublished events error %w", err)
	}
	defer rows.Close()

	events := []*models.OutboxEvent{}
	for rows.Next() {
		e := &models.OutboxEvent{Payload: &models.SettlementEventPayload{}}
		if err := rows.Scan(&e.UUID, &e.TransactionUUID, &e.EventType, e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox_repository: scan unpublished event error %w", err)
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

func (rep *OutboxRepository) MarkPublishedTX(ctx context.Context, tx pgx.Tx, uuid string, publishedAt time.Time) error {
	if _, err := tx.Exec(
		ctx,
		`
			UPDATE outbox_events
			SET published = true, published_at = $1, attempts = attempts + 1
			WHERE uuid = $2
		`,
		publishedAt, uuid,
	); err != nil {
		return fmt.Errorf("outbox_repository: mark published error %w", err)
	}

	return nil
}

// IncrementAttemptsTX keeps the failure visible: the row stays unpublished
// for alerting instead of being dropped.
func (rep *OutboxRepository) IncrementAttemptsTX(ctx context.Context, tx pgx.Tx, uuid string) error {
	if _, err := tx.Exec(
		ctx,
		`UPDATE outbox_events SET attempts = attempts + 1 WHERE uuid = $1`,
		uuid,
	); err != nil {
		return fmt.Errorf("outbox_repository: increment attempts error %w", err)
	}

	return nil
}

func (rep *OutboxRepository) BeginTX(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return rep.strg.BeginTx(ctx, opts)
}

func (rep *OutboxRepository) CommitTX(ctx context.Context, tx pgx.Tx) error {
	return tx.Commit(ctx)
}

func (rep *OutboxRepository) RollbackTX(ctx context.Context, tx pgx.Tx) error {
	return tx.Rollback(ctx)
}
