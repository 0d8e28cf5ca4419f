package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

const sourceReconciliation = "reconciliation"

// Handler isolates messages that exhausted their retry budget. The message
// and its failure history are persisted before anything else; the alert is
// best-effort on top of durable state. Dead letters are replayable on
// operator demand.
type Handler struct {
	lg          *logging.ZapLogger
	deadLetters DeadLettersRepository
	inbox       InboxEventsRepository
	audit       AuditRepository
	alerts      AlertPublisher
}

type DeadLettersRepository interface {
	Create(ctx context.Context, in *models.DeadLetter) error
	Find(ctx context.Context, uuid string) (*models.DeadLetter, error)
	MarkReplayed(ctx context.Context, uuid string, replayedAt time.Time) error
}

type InboxEventsRepository interface {
	SetState(ctx context.Context, uuid string, newState string) error
	Requeue(ctx context.Context, uuid string) error
}

type AuditRepository interface {
	Create(ctx context.Context, in *models.AuditRecord) error
}

type AlertPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// AlertMessage is the settlement.deadletter wire format.
type AlertMessage struct {
	EventUUID       string    `json:"event_uuid"`
	TransactionUUID string    `json:"transaction_uuid"`
	Source          string    `json:"source"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"last_error"`
	EmittedAt       time.Time `json:"emitted_at"`
}

func NewHandler(
	deadLetters DeadLettersRepository,
	inbox InboxEventsRepository,
	audit AuditRepository,
	alerts AlertPublisher,
	lg *logging.ZapLogger,
) *Handler {
	return &Handler{
		lg:          lg,
		deadLetters: deadLetters,
		inbox:       inbox,
		audit:       audit,
		alerts:      alerts,
	}
}

func (h *Handler) OnExhausted(ctx context.Context, e *models.ConfirmationEvent, history models.FailureHistory) error {
	message, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("deadletter/handler: marshal message error %w", err)
	}

	if err := h.deadLetters.Create(ctx, &models.DeadLetter{
		UUID:           e.UUID,
		Source:         sourceReconciliation,
		Message:        message,
		FailureHistory: history,
	}); err != nil {
		return fmt.Errorf("deadletter/handler: persist dead letter error %w", err)
	}

	if err := h.inbox.SetState(ctx, e.UUID, models.InboxEventDeadState); err != nil {
		return fmt.Errorf("deadletter/handler: mark event dead error %w", err)
	}

	h.lg.WarnCtx(ctx, "message dead lettered",
		zap.String("event_uuid", e.UUID),
		zap.String("transaction_uuid", e.Meta.TransactionUUID),
		zap.Int("attempts", e.Attempts),
	)

	alert, err := json.Marshal(&AlertMessage{
		EventUUID:       e.UUID,
		TransactionUUID: e.Meta.TransactionUUID,
		Source:          sourceReconciliation,
		Attempts:        e.Attempts,
		LastError:       e.LastError,
		EmittedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("deadletter/handler: marshal alert error %w", err)
	}

	if err := h.alerts.Publish(ctx, e.UUID, alert); err != nil {
		h.lg.ErrorCtx(ctx, "dead letter alert publish failed", zap.Error(err), zap.String("event_uuid", e.UUID))
	}

	return nil
}

// Replay re-injects a dead letter at the head of the reconciliation inbox.
// The inbox row keeps its original creation timestamp, so the replayed
// event is picked up before the current backlog.
func (h *Handler) Replay(ctx context.Context, uuid string) error {
	dl, err := h.deadLetters.Find(ctx, uuid)
	if err != nil {
		return fmt.Errorf("deadletter/handler: find dead letter error %w", err)
	}

	if dl == nil {
		return fmt.Errorf("deadletter/handler: dead letter %s not found", uuid)
	}

	if err := h.inbox.Requeue(ctx, uuid); err != nil {
		return fmt.Errorf("deadletter/handler: requeue event error %w", err)
	}

	if err := h.deadLetters.MarkReplayed(ctx, uuid, time.Now()); err != nil {
		return fmt.Errorf("deadletter/handler: mark replayed error %w", err)
	}

	if err := h.audit.Create(ctx, &models.AuditRecord{
		Actor:      "operator",
		Action:     models.AuditActionDeadLetterReplayed,
		AfterState: &models.AuditState{Detail: fmt.Sprintf("dead letter %s replayed", uuid)},
	}); err != nil {
		return fmt.Errorf("deadletter/handler: audit replay error %w", err)
	}

	h.lg.InfoCtx(ctx, "dead letter replayed", zap.String("event_uuid", uuid))

	return nil
}
