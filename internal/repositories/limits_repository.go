package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"github.com/vysogota0399/settlement_engine/internal/storage"
)

type LimitsRepository struct {
	strg LimitsStorage
	lg   *logging.ZapLogger
}

type LimitsStorage interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

func NewLimitsRepository(strg *storage.Storage, lg *logging.ZapLogger) *LimitsRepository {
	return &LimitsRepository{strg: strg.DB, lg: lg}
}

// EffectiveLimit returns the highest-version limit row effective at asOf.
// Limit changes insert new versions, so reads never observe an in-place
// mutation.
func (rep *LimitsRepository) EffectiveLimit(ctx context.Context, transactionType string, asOf time.Time) (*models.TransactionLimit, error) {
	limit := &models.TransactionLimit{}
	var effectiveTo *time.Time

	row := rep.strg.QueryRow(
		ctx,
		`
			SELECT id, type, per_operation_limit, daily_limit, version, effective_from, effective_to
			FROM transaction_limits
			WHERE type = $1
				AND effective_from <= $2
				AND (effective_to IS NULL OR effective_to > $2)
			ORDER BY version DESC
			LIMIT 1
		`,
		transactionType, asOf,
	)

	if err := row.Scan(
		&limit.ID,
		&limit.Type,
		&limit.PerOperationLimit,
		&limit.DailyLimit,
		&limit.Version,
		&limit.EffectiveFrom,
		&effectiveTo,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("limits_repository: scan limit error %w", err)
	}

	limit.EffectiveTo = effectiveTo
	return limit, nil
}
