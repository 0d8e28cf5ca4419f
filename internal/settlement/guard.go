package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"go.uber.org/zap"
)

// Guard deduplicates submissions by client-supplied idempotency key. The
// reservation is persisted up front; the terminal result is recorded by
// the state machine inside the settlement transaction, so a crash cannot
// separate "processed" from "recorded".
type Guard struct {
	lg        *logging.ZapLogger
	records   GuardIdempotencyRepository
	retention time.Duration
}

type GuardIdempotencyRepository interface {
	Reserve(ctx context.Context, in *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error)
}

type Admission struct {
	Duplicate bool
	Record    *models.IdempotencyRecord
}

func NewGuard(cfg *Config, records GuardIdempotencyRepository, lg *logging.ZapLogger) *Guard {
	return &Guard{
		lg:        lg,
		records:   records,
		retention: time.Duration(cfg.IdempotencyRetentionHours) * time.Hour,
	}
}

// Submit claims the key for transactionUUID. A duplicate with the same
// request hash returns the first submission's record; the same key with a
// different hash is a client error, rejected with ErrIdempotencyConflict.
func (g *Guard) Submit(ctx context.Context, key, requestHash, transactionUUID string) (*Admission, error) {
	inserted, existing, err := g.records.Reserve(ctx, &models.IdempotencyRecord{
		Key:             key,
		RequestHash:     requestHash,
		TransactionUUID: transactionUUID,
		Status:          models.IdempotencyStatusPending,
		ExpiresAt:       time.Now().Add(g.retention),
	})
	if err != nil {
		return nil, fmt.Errorf("settlement/guard: reserve key error %w", err)
	}

	if inserted {
		return &Admission{Duplicate: false}, nil
	}

	if existing.RequestHash != requestHash {
		return nil, fmt.Errorf("settlement/guard: key %s %w", key, models.ErrIdempotencyConflict)
	}

	g.lg.DebugCtx(ctx, "duplicate submission", zap.String("idempotency_key", key), zap.String("transaction_uuid", existing.TransactionUUID))

	return &Admission{Duplicate: true, Record: existing}, nil
}
