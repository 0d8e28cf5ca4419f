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

type IdempotencyRepository struct {
	strg IdempotencyStorage
	lg   *logging.ZapLogger
}

type IdempotencyStorage interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewIdempotencyRepository(strg *storage.Storage, lg *logging.ZapLogger) *IdempotencyRepository {
	return &IdempotencyRepository{strg: strg.DB, lg: lg}
}

// Reserve claims the key with insert-if-absent. When the insert loses to an
// existing row the row is returned instead; an expired row is removed first
// so the retry starts over as a fresh submission.
func (rep *IdempotencyRepository) Reserve(ctx context.Context, in *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	tag, err := rep.strg.Exec(
		ctx,
		`
			INSERT INTO idempotency_records(key, request_hash, transaction_uuid, status, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (key) DO NOTHING
		`,
		in.Key, in.RequestHash, in.TransactionUUID, in.Status, in.ExpiresAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("idempotency_repository: reserve key error %w", err)
	}

	if tag.RowsAffected() > 0 {
		return true, nil, nil
	}

	existing, err := rep.Find(ctx, in.Key)
	if err != nil {
		return false, nil, err
	}

	if existing == nil {
		return false, nil, fmt.Errorf("idempotency_repository: lost reservation for key %s %w", in.Key, models.ErrTransientStore)
	}

	if existing.Expired(time.Now()) {
		if _, err := rep.strg.Exec(
			ctx,
			`DELETE FROM idempotency_records WHERE key = $1 AND expires_at = $2`,
			existing.Key, existing.ExpiresAt,
		); err != nil {
			return false, nil, fmt.Errorf("idempotency_repository: delete expired record error %w", err)
		}

		return rep.Reserve(ctx, in)
	}

	return false, existing, nil
}

func (rep *IdempotencyRepository) Find(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	record := &models.IdempotencyRecord{}
	row := rep.strg.QueryRow(
		ctx,
		`
			SELECT key, request_hash, transaction_uuid, status, result_status, expires_at, created_at
			FROM idempotency_records
			WHERE key = $1
		`,
		key,
	)

	if err := row.Scan(
		&record.Key,
		&record.RequestHash,
		&record.TransactionUUID,
		&record.Status,
		&record.ResultStatus,
		&record.ExpiresAt,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("idempotency_repository: scan record error %w", err)
	}

	return record, nil
}

// CompleteTX records the terminal result inside the settlement transaction,
// so "processed" and "recorded" cannot be split by a crash.
func (rep *IdempotencyRepository) CompleteTX(ctx context.Context, tx pgx.Tx, key, resultStatus string) error {
	if _, err := tx.Exec(
		ctx,
		`
			UPDATE idempotency_records
			SET status = $1, result_status = $2
			WHERE key = $3
		`,
		models.IdempotencyStatusDone, resultStatus, key,
	); err != nil {
		return fmt.Errorf("idempotency_repository: complete record error %w", err)
	}

	return nil
}

func (rep *IdempotencyRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := rep.strg.Exec(
		ctx,
		`DELETE FROM idempotency_records WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("idempotency_repository: purge expired records error %w", err)
	}

	return tag.RowsAffected(), nil
}
