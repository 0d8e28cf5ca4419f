package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

// LimitChecker applies two rules in order: the per-operation ceiling, which
// needs no transactional context, then the cumulative usage over a rolling
// 24h window, read under the same transaction as the balance work. Denials
// are terminal for the attempt.
type LimitChecker struct {
	lg     *logging.ZapLogger
	limits LimitsRepository
	usage  UsageRepository
}

type LimitsRepository interface {
	EffectiveLimit(ctx context.Context, transactionType string, asOf time.Time) (*models.TransactionLimit, error)
}

type UsageRepository interface {
	CumulativeAmountTX(ctx context.Context, tx pgx.Tx, accountID, transactionType string, since time.Time, excludeUUID string) (int64, error)
}

const dailyWindow = 24 * time.Hour

func NewLimitChecker(limits LimitsRepository, usage UsageRepository, lg *logging.ZapLogger) *LimitChecker {
	return &LimitChecker{lg: lg, limits: limits, usage: usage}
}

func (c *LimitChecker) CheckOperation(ctx context.Context, transactionType string, amount int64, asOf time.Time) error {
	limit, err := c.limits.EffectiveLimit(ctx, transactionType, asOf)
	if err != nil {
		return fmt.Errorf("settlement/limits: fetch limit error %w", err)
	}

	if limit == nil {
		return fmt.Errorf("settlement/limits: no effective limit for type %s %w", transactionType, models.ErrLimitDenied)
	}

	if amount > limit.PerOperationLimit {
		return fmt.Errorf(
			"settlement/limits: amount %d exceeds per-operation ceiling %d for %s %w",
			amount, limit.PerOperationLimit, transactionType, models.ErrLimitDenied,
		)
	}

	return nil
}

// CheckDailyTX verifies the rolling-window cumulative ceiling inside the
// caller's transaction, so two concurrent submissions cannot both pass on
// the same stale total.
func (c *LimitChecker) CheckDailyTX(ctx context.Context, tx pgx.Tx, transaction *models.Transaction, asOf time.Time) error {
	limit, err := c.limits.EffectiveLimit(ctx, transaction.Type, asOf)
	if err != nil {
		return fmt.Errorf("settlement/limits: fetch limit error %w", err)
	}

	if limit == nil {
		return fmt.Errorf("settlement/limits: no effective limit for type %s %w", transaction.Type, models.ErrLimitDenied)
	}

	used, err := c.usage.CumulativeAmountTX(ctx, tx, transaction.SourceAccountID, transaction.Type, asOf.Add(-dailyWindow), transaction.UUID)
	if err != nil {
		return fmt.Errorf("settlement/limits: fetch cumulative usage error %w", err)
	}

	if used+transaction.Amount > limit.DailyLimit {
		return fmt.Errorf(
			"settlement/limits: cumulative %d plus amount %d exceeds daily ceiling %d for %s %w",
			used, transaction.Amount, limit.DailyLimit, transaction.Type, models.ErrLimitDenied,
		)
	}

	return nil
}
