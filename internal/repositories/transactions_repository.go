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

type TransactionsRepository struct {
	strg TransactionsStorage
	lg   *logging.ZapLogger
}

type TransactionsStorage interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func NewTransactionsRepository(strg *storage.Storage, lg *logging.ZapLogger) *TransactionsRepository {
	return &TransactionsRepository{strg: strg.DB, lg: lg}
}

const transactionColumns = `
	uuid, source_account_id, target_account_id, amount, type, status, reason,
	idempotency_key, correlation_id, manual_review, confirmed_at, external_ref,
	created_at, updated_at
`

func (rep *TransactionsRepository) Create(ctx context.Context, in *models.Transaction) error {
	_, err := rep.strg.Exec(
		ctx,
		`
			INSERT INTO transactions(uuid, source_account_id, target_account_id, amount, type, status, idempotency_key, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		in.UUID, in.SourceAccountID, in.TargetAccountID, in.Amount, in.Type, in.Status, in.IdempotencyKey, in.CorrelationID,
	)

	if err != nil {
		return fmt.Errorf("transactions_repository: create transaction error %w", err)
	}

	return nil
}

func (rep *TransactionsRepository) FindByUUID(ctx context.Context, uuid string) (*models.Transaction, error) {
	row := rep.strg.QueryRow(
		ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE uuid = $1`,
		uuid,
	)

	return rep.scanTransaction(row)
}

// SetStatusTX flips the status inside the caller's transaction. The WHERE
// clause admits only valid forward transitions, so a terminal row can never
// be rewritten; zero affected rows means the transition was not allowed.
func (rep *TransactionsRepository) SetStatusTX(ctx context.Context, tx pgx.Tx, uuid, status, reason string) (bool, error) {
	tag, err := tx.Exec(
		ctx,
		`
			UPDATE transactions
			SET status = $1, reason = $2, updated_at = now()
			WHERE uuid = $3 AND status NOT IN ($4, $5)
		`,
		status, reason, uuid,
		models.TransactionStatusSettled, models.TransactionStatusFailed,
	)

	if err != nil {
		return false, fmt.Errorf("transactions_repository: update status error %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (rep *TransactionsRepository) SetStatus(ctx context.Context, uuid, status, reason string) (bool, error) {
	tx, err := rep.strg.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("transactions_repository: create tx error %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := rep.SetStatusTX(ctx, tx, uuid, status, reason)
	if err != nil {
		return false, err
	}

	return ok, tx.Commit(ctx)
}

// CumulativeAmountTX sums settlement-bound amounts for the account/type over
// the window, read inside the caller's transaction with the same isolation
// as the balance work so two concurrent checks cannot both pass on stale
// totals.
func (rep *TransactionsRepository) CumulativeAmountTX(ctx context.Context, tx pgx.Tx, accountID, transactionType string, since time.Time, excludeUUID string) (int64, error) {
	row := tx.QueryRow(
		ctx,
		`
			WITH rows AS (
				SELECT amount
				FROM transactions
				WHERE source_account_id = $1
					AND type = $2
					AND created_at >= $3
					AND status IN ($4, $5)
					AND uuid <> $6
			)

			SELECT COALESCE(sum(rows.amount), 0) FROM rows
		`,
		accountID, transactionType, since,
		models.TransactionStatusProcessing, models.TransactionStatusSettled,
		excludeUUID,
	)

	var result int64
	if err := row.Scan(&result); err != nil {
		return 0, fmt.Errorf("transactions_repository: calc cumulative amount error %w", err)
	}

	return result, nil
}

func (rep *TransactionsRepository) SearchByAccountID(ctx context.Context, accountID string, page, perPage int) ([]*models.Transaction, error) {
	if page < 1 {
		page = 1
	}

	rows, err := rep.strg.Query(
		ctx,
		`
			SELECT `+transactionColumns+`
			FROM transactions
			WHERE source_account_id = $1 OR target_account_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`,
		accountID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, fmt.Errorf("transactions_repository: query history error %w", err)
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		t, err := rep.scanTransaction(rows)
		if err != nil {
			return nil, err
		}

		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

// StuckProcessing returns transactions abandoned mid-PROCESSING past the
// timeout, for the recovery sweep to drive to a terminal state.
func (rep *TransactionsRepository) StuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	rows, err := rep.strg.Query(
		ctx,
		`
			SELECT `+transactionColumns+`
			FROM transactions
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at ASC
			LIMIT $3
		`,
		models.TransactionStatusProcessing, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("transactions_repository: query stuck transactions error %w", err)
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		t, err := rep.scanTransaction(rows)
		if err != nil {
			return nil, err
		}

		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

func (rep *TransactionsRepository) SetManualReview(ctx context.Context, uuid string) error {
	if _, err := rep.strg.Exec(
		ctx,
		`
			UPDATE transactions
			SET manual_review = true, updated_at = now()
			WHERE uuid = $1
		`,
		uuid,
	); err != nil {
		return fmt.Errorf("transactions_repository: set manual review error %w", err)
	}

	return nil
}

func (rep *TransactionsRepository) SetConfirmed(ctx context.Context, uuid, externalRef string, confirmedAt time.Time) error {
	if _, err := rep.strg.Exec(
		ctx,
		`
			UPDATE transactions
			SET confirmed_at = $1, external_ref = $2, updated_at = now()
			WHERE uuid = $3 AND confirmed_at IS NULL
		`,
		confirmedAt, externalRef, uuid,
	); err != nil {
		return fmt.Errorf("transactions_repository: set confirmed error %w", err)
	}

	return nil
}

func (rep *TransactionsRepository) scanTransaction(row pgx.Row) (*models.Transaction, error) {
	t := &models.Transaction{}
	var confirmedAt *time.Time
	var externalRef *string

	if err := row.Scan(
		&t.UUID,
		&t.SourceAccountID,
		&t.TargetAccountID,
		&t.Amount,
		&t.Type,
		&t.Status,
		&t.Reason,
		&t.IdempotencyKey,
		&t.CorrelationID,
		&t.ManualReview,
		&confirmedAt,
		&externalRef,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("transactions_repository: scan transaction error %w", err)
	}

	t.ConfirmedAt = confirmedAt
	if externalRef != nil {
		t.ExternalRef = *externalRef
	}

	return t, nil
}

func (rep *TransactionsRepository) BeginTX(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return rep.strg.BeginTx(ctx, opts)
}

func (rep *TransactionsRepository) CommitTX(ctx context.Context, tx pgx.Tx) error {
	return tx.Commit(ctx)
}

func (rep *TransactionsRepository) RollbackTX(ctx context.Context, tx pgx.Tx) error {
	return tx.Rollback(ctx)
}
