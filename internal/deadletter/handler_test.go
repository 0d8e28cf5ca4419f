package deadletter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/models"
)

type fakeDeadLetters struct {
	letters   map[string]*models.DeadLetter
	createErr error
}

func (f *fakeDeadLetters) Create(ctx context.Context, in *models.DeadLetter) error {
	if f.createErr != nil {
		return f.createErr
	}

	if _, ok := f.letters[in.UUID]; !ok {
		f.letters[in.UUID] = in
	}

	return nil
}

func (f *fakeDeadLetters) Find(ctx context.Context, uuid string) (*models.DeadLetter, error) {
	dl, ok := f.letters[uuid]
	if !ok {
		return nil, nil
	}

	return dl, nil
}

func (f *fakeDeadLetters) MarkReplayed(ctx context.Context, uuid string, replayedAt time.Time) error {
	f.letters[uuid].ReplayedAt = &replayedAt
	return nil
}

type fakeInbox struct {
	states   map[string]string
	requeued []string
}

func (f *fakeInbox) SetState(ctx context.Context, uuid string, newState string) error {
	f.states[uuid] = newState
	return nil
}

func (f *fakeInbox) Requeue(ctx context.Context, uuid string) error {
	f.requeued = append(f.requeued, uuid)
	f.states[uuid] = models.InboxEventNewState

	return nil
}

type fakeAudit struct {
	records []*models.AuditRecord
}

func (f *fakeAudit) Create(ctx context.Context, in *models.AuditRecord) error {
	f.records = append(f.records, in)
	return nil
}

type fakeAlerts struct {
	alerts []AlertMessage
	err    error
}

func (f *fakeAlerts) Publish(ctx context.Context, key string, value []byte) error {
	if f.err != nil {
		return f.err
	}

	var msg AlertMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return err
	}

	f.alerts = append(f.alerts, msg)

	return nil
}

type handlerFixture struct {
	handler *Handler
	letters *fakeDeadLetters
	inbox   *fakeInbox
	audit   *fakeAudit
	alerts  *fakeAlerts
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	lg, err := logging.NewZapLogger(&config.Config{LogLevel: 2})
	require.NoError(t, err)

	letters := &fakeDeadLetters{letters: map[string]*models.DeadLetter{}}
	inbox := &fakeInbox{states: map[string]string{}}
	audit := &fakeAudit{}
	alerts := &fakeAlerts{}

	return &handlerFixture{
		handler: NewHandler(letters, inbox, audit, alerts, lg),
		letters: letters,
		inbox:   inbox,
		audit:   audit,
		alerts:  alerts,
	}
}

func exhaustedEvent() *models.ConfirmationEvent {
	return &models.ConfirmationEvent{
		UUID:      "ev-1",
		State:     models.InboxEventNewState,
		Attempts:  5,
		LastError: "transaction tx-1 still PROCESSING",
		Meta: &models.ConfirmationEventMeta{
			TransactionUUID: "tx-1",
			SourceAccountID: "acc-a",
			ExternalStatus:  models.ConfirmationStatusSettled,
		},
	}
}

func history() models.FailureHistory {
	return models.FailureHistory{
		{Attempt: 5, Error: "transaction tx-1 still PROCESSING", OccurredAt: time.Now().UTC()},
	}
}

func TestOnExhaustedPersistsAndAlerts(t *testing.T) {
	f := newHandlerFixture(t)

	require.NoError(t, f.handler.OnExhausted(context.Background(), exhaustedEvent(), history()))

	dl := f.letters.letters["ev-1"]
	require.NotNil(t, dl)
	assert.Equal(t, "reconciliation", dl.Source)
	require.Len(t, dl.FailureHistory, 1)
	assert.Equal(t, 5, dl.FailureHistory[0].Attempt)

	var meta models.ConfirmationEventMeta
	require.NoError(t, json.Unmarshal(dl.Message, &meta))
	assert.Equal(t, "tx-1", meta.TransactionUUID)

	assert.Equal(t, models.InboxEventDeadState, f.inbox.states["ev-1"])

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, "ev-1", f.alerts.alerts[0].EventUUID)
	assert.Equal(t, "tx-1", f.alerts.alerts[0].TransactionUUID)
	assert.Equal(t, 5, f.alerts.alerts[0].Attempts)
}

func TestOnExhaustedAlertFailureIsNotFatal(t *testing.T) {
	f := newHandlerFixture(t)
	f.alerts.err = assert.AnError

	// Durable state wins: the persisted dead letter and the state flip stand
	// even when the alert cannot reach the broker.
	require.NoError(t, f.handler.OnExhausted(context.Background(), exhaustedEvent(), history()))

	assert.NotNil(t, f.letters.letters["ev-1"])
	assert.Equal(t, models.InboxEventDeadState, f.inbox.states["ev-1"])
}

func TestOnExhaustedPersistFailureLeavesEventAlive(t *testing.T) {
	f := newHandlerFixture(t)
	f.letters.createErr = assert.AnError

	require.Error(t, f.handler.OnExhausted(context.Background(), exhaustedEvent(), history()))

	assert.Empty(t, f.inbox.states)
	assert.Empty(t, f.alerts.alerts)
}

func TestReplay(t *testing.T) {
	f := newHandlerFixture(t)
	require.NoError(t, f.handler.OnExhausted(context.Background(), exhaustedEvent(), history()))

	require.NoError(t, f.handler.Replay(context.Background(), "ev-1"))

	assert.Equal(t, []string{"ev-1"}, f.inbox.requeued)
	assert.NotNil(t, f.letters.letters["ev-1"].ReplayedAt)

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.AuditActionDeadLetterReplayed, f.audit.records[0].Action)
	assert.Equal(t, "operator", f.audit.records[0].Actor)
}

func TestReplayUnknownDeadLetter(t *testing.T) {
	f := newHandlerFixture(t)

	require.Error(t, f.handler.Replay(context.Background(), "missing"))
	assert.Empty(t, f.inbox.requeued)
}
