package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

type fakeInbox struct {
	rows      map[string]*models.InboxMessage
	getErr    error
	createErr error

	processed []string
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{rows: make(map[string]*models.InboxMessage)}
}

func (f *fakeInbox) Get(ctx context.Context, messageID string) (*models.InboxMessage, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rows[messageID], nil
}

func (f *fakeInbox) Create(ctx context.Context, message *models.InboxMessage) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.rows[message.MessageID]; exists {
		return errs.ErrDuplicateMessage
	}
	f.rows[message.MessageID] = message
	return nil
}

func (f *fakeInbox) MarkProcessed(ctx context.Context, messageID string) error {
	if row, ok := f.rows[messageID]; ok {
		row.IsProcessed = true
	}
	f.processed = append(f.processed, messageID)
	return nil
}

func envelope(t *testing.T, messageID, eventType, eventData string) []byte {
	t.Helper()
	body, err := json.Marshal(models.PublishEvent{
		MessageID:   messageID,
		EventType:   eventType,
		EventData:   eventData,
		TimeCreated: time.Now(),
	})
	require.NoError(t, err)
	return body
}

func newTestSubscriber(inbox InboxStore) *Subscriber {
	return NewSubscriber(nil, inbox, time.Millisecond, testLogger())
}

func TestProcessRecordsAndHandlesEvent(t *testing.T) {
	inbox := newFakeInbox()
	s := newTestSubscriber(inbox)

	var handled []string
	s.Handle(models.EventUserCreated, func(ctx context.Context, eventData string) error {
		handled = append(handled, eventData)
		return nil
	})

	err := s.process(context.Background(), envelope(t, "m1", models.EventUserCreated, `{"user_id":"u1"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{`{"user_id":"u1"}`}, handled)
	require.NotNil(t, inbox.rows["m1"])
	assert.True(t, inbox.rows["m1"].IsProcessed)
}

func TestProcessSkipsDuplicateDelivery(t *testing.T) {
	inbox := newFakeInbox()
	inbox.rows["m1"] = &models.InboxMessage{MessageID: "m1", IsProcessed: true}
	s := newTestSubscriber(inbox)

	calls := 0
	s.Handle(models.EventUserCreated, func(ctx context.Context, eventData string) error {
		calls++
		return nil
	})

	err := s.process(context.Background(), envelope(t, "m1", models.EventUserCreated, "{}"))
	require.NoError(t, err)
	assert.Zero(t, calls, "a processed message must not be handled twice")
}

func TestProcessRerunsUnprocessedRow(t *testing.T) {
	// The row exists because an earlier attempt failed after recording it.
	inbox := newFakeInbox()
	inbox.rows["m1"] = &models.InboxMessage{MessageID: "m1", EventType: models.EventUserCreated}
	s := newTestSubscriber(inbox)

	calls := 0
	s.Handle(models.EventUserCreated, func(ctx context.Context, eventData string) error {
		calls++
		return nil
	})

	err := s.process(context.Background(), envelope(t, "m1", models.EventUserCreated, "{}"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, inbox.rows["m1"].IsProcessed)
}

func TestProcessConcurrentInsertLosesGracefully(t *testing.T) {
	inbox := newFakeInbox()
	inbox.createErr = errs.ErrDuplicateMessage
	s := newTestSubscriber(inbox)

	calls := 0
	s.Handle(models.EventUserCreated, func(ctx context.Context, eventData string) error {
		calls++
		return nil
	})

	err := s.process(context.Background(), envelope(t, "m1", models.EventUserCreated, "{}"))
	require.NoError(t, err, "losing the insert race means another consumer owns the message")
	assert.Zero(t, calls)
}

func TestProcessUnknownEventTypeIsAcked(t *testing.T) {
	inbox := newFakeInbox()
	s := newTestSubscriber(inbox)

	err := s.process(context.Background(), envelope(t, "m1", "User_Promoted", "{}"))
	require.NoError(t, err)
	assert.Empty(t, inbox.rows, "unknown event types are dropped without an inbox row")
}

func TestProcessMalformedEnvelopeIsAcked(t *testing.T) {
	s := newTestSubscriber(newFakeInbox())

	err := s.process(context.Background(), []byte("{not an envelope"))
	assert.NoError(t, err, "an undecodable body can never succeed later, so it is dropped")
}

func TestProcessHandlerFailureLeavesRowUnprocessed(t *testing.T) {
	inbox := newFakeInbox()
	s := newTestSubscriber(inbox)

	handlerErr := errors.New("local store rejected the user")
	s.Handle(models.EventUserCreated, func(ctx context.Context, eventData string) error {
		return handlerErr
	})

	err := s.process(context.Background(), envelope(t, "m1", models.EventUserCreated, "{}"))
	assert.ErrorIs(t, err, handlerErr)

	require.NotNil(t, inbox.rows["m1"], "the inbox row is recorded before the handler runs")
	assert.False(t, inbox.rows["m1"].IsProcessed)
}

func TestProcessInboxLookupFailureIsRetryable(t *testing.T) {
	inbox := newFakeInbox()
	inbox.getErr = errs.ErrConnection
	s := newTestSubscriber(inbox)
	s.Handle(models.EventUserCreated, func(ctx context.Context, eventData string) error { return nil })

	err := s.process(context.Background(), envelope(t, "m1", models.EventUserCreated, "{}"))
	assert.ErrorIs(t, err, errs.ErrConnection)
}
