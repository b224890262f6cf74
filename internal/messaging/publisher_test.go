package messaging

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identio/identio/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeOutboxStore struct {
	messages []models.OutboxMessage
	getErr   error
	markErr  error
	sent     []string
}

func (f *fakeOutboxStore) GetUnsent(ctx context.Context) ([]models.OutboxMessage, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	var unsent []models.OutboxMessage
	for _, m := range f.messages {
		if !m.IsSent {
			unsent = append(unsent, m)
		}
	}
	return unsent, nil
}

func (f *fakeOutboxStore) MarkSent(ctx context.Context, messageID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	for i := range f.messages {
		if f.messages[i].MessageID == messageID {
			f.messages[i].IsSent = true
		}
	}
	f.sent = append(f.sent, messageID)
	return nil
}

type fakeBus struct {
	published []models.PublishEvent
	err       error
	failAfter int // fail once this many events went through; 0 disables
}

func (f *fakeBus) Publish(ctx context.Context, event models.PublishEvent) error {
	if f.err != nil {
		return f.err
	}
	if f.failAfter > 0 && len(f.published) >= f.failAfter {
		return errors.New("broker went away")
	}
	f.published = append(f.published, event)
	return nil
}

func outboxMessage(id, eventType string, created time.Time) models.OutboxMessage {
	return models.OutboxMessage{
		MessageID:   id,
		EventType:   eventType,
		EventData:   `{"user_id":"user-123"}`,
		TimeCreated: created,
	}
}

func TestDrainPublishesAndMarksSent(t *testing.T) {
	now := time.Now()
	store := &fakeOutboxStore{messages: []models.OutboxMessage{
		outboxMessage("m1", models.EventUserCreated, now.Add(-2*time.Minute)),
		outboxMessage("m2", models.EventUserDeleted, now.Add(-time.Minute)),
	}}
	bus := &fakeBus{}
	p := NewOutboxPublisher(store, bus, time.Second, testLogger())

	p.drain(context.Background())

	require.Len(t, bus.published, 2)
	assert.Equal(t, "m1", bus.published[0].MessageID)
	assert.Equal(t, models.EventUserCreated, bus.published[0].EventType)
	assert.Equal(t, []string{"m1", "m2"}, store.sent)
}

func TestDrainSkipsAlreadySentMessages(t *testing.T) {
	now := time.Now()
	sent := outboxMessage("m1", models.EventUserCreated, now)
	sent.IsSent = true
	store := &fakeOutboxStore{messages: []models.OutboxMessage{
		sent,
		outboxMessage("m2", models.EventUserDeleted, now),
	}}
	bus := &fakeBus{}
	p := NewOutboxPublisher(store, bus, time.Second, testLogger())

	p.drain(context.Background())

	require.Len(t, bus.published, 1)
	assert.Equal(t, "m2", bus.published[0].MessageID)
}

func TestDrainStopsOnPublishFailure(t *testing.T) {
	now := time.Now()
	store := &fakeOutboxStore{messages: []models.OutboxMessage{
		outboxMessage("m1", models.EventUserCreated, now.Add(-2*time.Minute)),
		outboxMessage("m2", models.EventUserCreated, now.Add(-time.Minute)),
	}}
	bus := &fakeBus{failAfter: 1}
	p := NewOutboxPublisher(store, bus, time.Second, testLogger())

	p.drain(context.Background())

	assert.Equal(t, []string{"m1"}, store.sent, "the failed message stays unsent")

	// The broker recovers; the next drain picks up where it stopped.
	bus.failAfter = 0
	p.drain(context.Background())
	assert.Equal(t, []string{"m1", "m2"}, store.sent)
}

func TestDrainFailedPublishIsRetriedNotSkipped(t *testing.T) {
	store := &fakeOutboxStore{messages: []models.OutboxMessage{
		outboxMessage("m1", models.EventUserCreated, time.Now()),
	}}
	bus := &fakeBus{err: errors.New("broker unavailable")}
	p := NewOutboxPublisher(store, bus, time.Second, testLogger())

	p.drain(context.Background())
	p.drain(context.Background())
	assert.Empty(t, store.sent)

	bus.err = nil
	p.drain(context.Background())
	assert.Equal(t, []string{"m1"}, store.sent)
}

func TestDrainMarkSentFailureStopsBatch(t *testing.T) {
	now := time.Now()
	store := &fakeOutboxStore{
		messages: []models.OutboxMessage{
			outboxMessage("m1", models.EventUserCreated, now.Add(-time.Minute)),
			outboxMessage("m2", models.EventUserCreated, now),
		},
		markErr: errors.New("conditional check failed"),
	}
	bus := &fakeBus{}
	p := NewOutboxPublisher(store, bus, time.Second, testLogger())

	p.drain(context.Background())

	assert.Len(t, bus.published, 1, "the batch stops once a sent flag fails to persist")
	assert.Empty(t, store.sent)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &fakeOutboxStore{}
	p := NewOutboxPublisher(store, &fakeBus{}, time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop on cancellation")
	}
}
