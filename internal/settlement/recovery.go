package settlement

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RecoveryDaemon sweeps transactions stuck in PROCESSING past the timeout
// and drives each to a terminal state through Processor.Recover. It also
// purges expired idempotency records, making room for their keys to be
// reused as fresh submissions.
type RecoveryDaemon struct {
	lg           *logging.ZapLogger
	cfg          *Config
	pollInterval time.Duration
	timeout      time.Duration
	processor    *Processor
	transactions RecoveryTransactionsRepository
	idempotency  RecoveryIdempotencyRepository

	cancaller context.CancelFunc
	globalCtx context.Context
}

type RecoveryTransactionsRepository interface {
	StuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Transaction, error)
}

type RecoveryIdempotencyRepository interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func NewRecoveryDaemon(
	lc fx.Lifecycle,
	cfg *Config,
	processor *Processor,
	transactions RecoveryTransactionsRepository,
	idempotency RecoveryIdempotencyRepository,
	lg *logging.ZapLogger,
) *RecoveryDaemon {
	dmn := &RecoveryDaemon{
		lg:           lg,
		cfg:          cfg,
		pollInterval: time.Duration(cfg.RecoveryPollInterval) * time.Millisecond,
		timeout:      time.Duration(cfg.ProcessingTimeoutSeconds) * time.Second,
		processor:    processor,
		transactions: transactions,
		idempotency:  idempotency,
	}

	lc.Append(
		fx.Hook{
			OnStart: func(ctx context.Context) error {
				dmn.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				dmn.cancaller()
				return nil
			},
		},
	)

	return dmn
}

func (dmn *RecoveryDaemon) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	dmn.cancaller = cancel
	dmn.globalCtx = dmn.lg.WithContextFields(ctx, zap.String("name", "settlement_recovery_daemon"))

	dmn.lg.DebugCtx(dmn.globalCtx, "start recovery sweep", zap.Any("config", dmn.cfg))

	go func() {
		ticker := time.NewTicker(dmn.pollInterval)

		for {
			select {
			case <-dmn.globalCtx.Done():
				dmn.lg.DebugCtx(dmn.globalCtx, "recovery daemon graceful shutdown")
				return
			case <-ticker.C:
				if err := dmn.sweep(dmn.globalCtx); err != nil {
					dmn.lg.ErrorCtx(dmn.globalCtx, "recovery sweep error", zap.Error(err))
				}
			}
		}
	}()
}

func (dmn *RecoveryDaemon) sweep(ctx context.Context) error {
	if purged, err := dmn.idempotency.PurgeExpired(ctx, time.Now()); err != nil {
		dmn.lg.ErrorCtx(ctx, "purge expired idempotency records error", zap.Error(err))
	} else if purged > 0 {
		dmn.lg.DebugCtx(ctx, "purged expired idempotency records", zap.Int64("count", purged))
	}

	stuck, err := dmn.transactions.StuckProcessing(ctx, time.Now().Add(-dmn.timeout), dmn.cfg.RecoveryBatchSize)
	if err != nil {
		return err
	}

	if len(stuck) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(dmn.cfg.RecoveryWorkersCount))

	for _, t := range stuck {
		g.Go(func() error {
			result, err := dmn.processor.Recover(gctx, t)
			if err != nil {
				dmn.lg.ErrorCtx(gctx, "recover transaction error", zap.Error(err), zap.String("transaction_uuid", t.UUID))
				return nil
			}

			dmn.lg.InfoCtx(gctx, "recovered transaction",
				zap.String("transaction_uuid", result.TransactionUUID),
				zap.String("status", result.Status),
			)
			return nil
		})
	}

	return g.Wait()
}
