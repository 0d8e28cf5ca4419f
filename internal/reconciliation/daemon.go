package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Daemon drains the confirmation inbox with a worker pool. A failed event
// goes back in line with its attempt counter bumped; once the retry budget
// is spent the event is handed to the dead-letter handler, never dropped.
type Daemon struct {
	lg           *logging.ZapLogger
	cfg          *Config
	pollInterval time.Duration
	workersCount int64
	events       InboxEventsRepository
	reconciler   *Reconciler
	deadLetters  DeadLetterHandler

	cancaller context.CancelFunc
	globalCtx context.Context
}

type InboxEventsRepository interface {
	ReserveConfirmationEvent(ctx context.Context) (*models.ConfirmationEvent, error)
	SetState(ctx context.Context, uuid string, newState string) error
	RegisterFailure(ctx context.Context, uuid string, cause string) (int, models.FailureHistory, error)
}

type DeadLetterHandler interface {
	OnExhausted(ctx context.Context, e *models.ConfirmationEvent, history models.FailureHistory) error
}

func NewDaemon(
	lc fx.Lifecycle,
	cfg *Config,
	events InboxEventsRepository,
	reconciler *Reconciler,
	deadLetters DeadLetterHandler,
	lg *logging.ZapLogger,
) *Daemon {
	dmn := &Daemon{
		lg:           lg,
		cfg:          cfg,
		pollInterval: time.Duration(cfg.PollInterval) * time.Millisecond,
		workersCount: cfg.WorkersCount,
		events:       events,
		reconciler:   reconciler,
		deadLetters:  deadLetters,
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

func (dmn *Daemon) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	dmn.cancaller = cancel
	dmn.globalCtx = dmn.lg.WithContextFields(ctx, zap.String("name", "reconciliation_daemon"))

	dmn.lg.DebugCtx(dmn.globalCtx, "start processing confirmation events", zap.Any("config", dmn.cfg))

	for i := 0; i < int(dmn.workersCount); i++ {
		wctx := dmn.lg.WithContextFields(dmn.globalCtx, zap.Int("worker_id", i))
		go func() {
			ticker := time.NewTicker(dmn.pollInterval)

			for {
				select {
				case <-wctx.Done():
					dmn.lg.DebugCtx(wctx, "daemon worker graceful shutdown")
					return
				case <-ticker.C:
					if err := dmn.processEvent(wctx); err != nil {
						dmn.lg.ErrorCtx(wctx, "process confirmation event error", zap.Error(err))
					}
				}
			}
		}()
	}
}

func (dmn *Daemon) processEvent(ctx context.Context) error {
	e, err := dmn.events.ReserveConfirmationEvent(ctx)
	if err != nil {
		return fmt.Errorf("reserve confirmation event error %w", err)
	}

	if e == nil {
		return nil
	}

	ctx = dmn.lg.WithContextFields(ctx, zap.String("event_uuid", e.UUID))

	outcome, err := dmn.reconciler.Reconcile(ctx, e)
	if err != nil {
		return dmn.registerFailure(ctx, e, err)
	}

	if err := dmn.events.SetState(ctx, e.UUID, models.InboxEventFinishedState); err != nil {
		return fmt.Errorf("set finished state error %w", err)
	}

	dmn.lg.InfoCtx(ctx, "confirmation event processed", zap.String("outcome", string(outcome)))

	return nil
}

func (dmn *Daemon) registerFailure(ctx context.Context, e *models.ConfirmationEvent, cause error) error {
	attempts, history, err := dmn.events.RegisterFailure(ctx, e.UUID, cause.Error())
	if err != nil {
		return fmt.Errorf("register failure error %w", err)
	}

	if attempts < dmn.cfg.RetryBudget {
		// Transient races with in-flight settlements are expected; keep
		// those out of the error log.
		if errors.Is(cause, models.ErrTransientStore) {
			dmn.lg.DebugCtx(ctx, "confirmation event requeued", zap.Int("attempts", attempts), zap.Error(cause))
			return nil
		}

		return fmt.Errorf("reconcile attempt %d error %w", attempts, cause)
	}

	e.Attempts = attempts
	e.LastError = cause.Error()

	// The dead letter carries every recorded failure, not just the last one.
	if err := dmn.deadLetters.OnExhausted(ctx, e, history); err != nil {
		// The event stays in the inbox with state new; exhaustion repeats
		// until the dead-letter store accepts it.
		return fmt.Errorf("hand event to dead letter error %w", err)
	}

	return nil
}
