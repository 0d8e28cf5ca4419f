package reconciliation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeConflict       Outcome = "conflict"
)

const actorReconciliation = "reconciliation_worker"

// Reconciler matches external confirmations against local state. Agreement
// is recorded once per transaction; disagreement is never auto-corrected —
// the transaction is flagged for manual review with both views in the audit
// log.
type Reconciler struct {
	lg           *logging.ZapLogger
	transactions ReconcilerTransactionsRepository
	audit        ReconcilerAuditRepository
}

type ReconcilerTransactionsRepository interface {
	FindByUUID(ctx context.Context, uuid string) (*models.Transaction, error)
	SetConfirmed(ctx context.Context, uuid, externalRef string, confirmedAt time.Time) error
	SetManualReview(ctx context.Context, uuid string) error
}

type ReconcilerAuditRepository interface {
	Create(ctx context.Context, in *models.AuditRecord) error
}

func NewReconciler(transactions ReconcilerTransactionsRepository, audit ReconcilerAuditRepository, lg *logging.ZapLogger) *Reconciler {
	return &Reconciler{lg: lg, transactions: transactions, audit: audit}
}

func (r *Reconciler) Reconcile(ctx context.Context, e *models.ConfirmationEvent) (Outcome, error) {
	meta := e.Meta

	t, err := r.transactions.FindByUUID(ctx, meta.TransactionUUID)
	if err != nil {
		return "", fmt.Errorf("reconciliation/reconciler: find transaction error %w", err)
	}

	if t == nil {
		return r.conflict(ctx, e, nil, "transaction unknown locally")
	}

	if t.ConfirmedAt != nil {
		return OutcomeAlreadyApplied, nil
	}

	if !t.Terminal() {
		// The confirmation raced the settlement; leave the event for a
		// later attempt instead of judging an in-flight transaction.
		return "", fmt.Errorf("reconciliation/reconciler: transaction %s still %s %w", t.UUID, t.Status, models.ErrTransientStore)
	}

	localSettled := t.Status == models.TransactionStatusSettled
	externalSettled := meta.ExternalStatus == models.ConfirmationStatusSettled

	if localSettled != externalSettled {
		return r.conflict(ctx, e, t, "external status disagrees with local status")
	}

	if err := r.transactions.SetConfirmed(ctx, t.UUID, meta.ExternalRef, meta.ConfirmedAt); err != nil {
		return "", fmt.Errorf("reconciliation/reconciler: set confirmed error %w", err)
	}

	if err := r.audit.Create(ctx, &models.AuditRecord{
		Actor:           actorReconciliation,
		Action:          models.AuditActionConfirmationApplied,
		TransactionUUID: t.UUID,
		BeforeState:     &models.AuditState{Status: t.Status},
		AfterState:      &models.AuditState{Status: t.Status, ExternalRef: meta.ExternalRef},
		CorrelationID:   t.CorrelationID,
	}); err != nil {
		return "", fmt.Errorf("reconciliation/reconciler: audit confirmation error %w", err)
	}

	r.lg.InfoCtx(ctx, "confirmation applied",
		zap.String("transaction_uuid", t.UUID),
		zap.String("external_ref", meta.ExternalRef),
	)

	return OutcomeApplied, nil
}

func (r *Reconciler) conflict(ctx context.Context, e *models.ConfirmationEvent, t *models.Transaction, detail string) (Outcome, error) {
	record := &models.AuditRecord{
		Actor:  actorReconciliation,
		Action: models.AuditActionReconciliationConflict,
		AfterState: &models.AuditState{
			Status:      e.Meta.ExternalStatus,
			ExternalRef: e.Meta.ExternalRef,
			Detail:      detail,
		},
	}

	if t != nil {
		record.TransactionUUID = t.UUID
		record.CorrelationID = t.CorrelationID
		record.BeforeState = &models.AuditState{Status: t.Status, Reason: t.Reason}

		if err := r.transactions.SetManualReview(ctx, t.UUID); err != nil {
			return "", fmt.Errorf("reconciliation/reconciler: flag manual review error %w", err)
		}
	}

	if err := r.audit.Create(ctx, record); err != nil {
		return "", fmt.Errorf("reconciliation/reconciler: audit conflict error %w", err)
	}

	r.lg.WarnCtx(ctx, "reconciliation conflict",
		zap.String("event_uuid", e.UUID),
		zap.String("transaction_uuid", e.Meta.TransactionUUID),
		zap.String("detail", detail),
	)

	return OutcomeConflict, nil
}
