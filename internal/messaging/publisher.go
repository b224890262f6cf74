package messaging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/models"
)

// OutboxStore is the pending-event table the publisher drains.
type OutboxStore interface {
	GetUnsent(ctx context.Context) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, messageID string) error
}

// EventPublisher sends one envelope to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, event models.PublishEvent) error
}

// OutboxPublisher drains unsent outbox rows on a fixed interval and marks
// each row sent only after the broker accepted it. A failed publish leaves
// the row untouched; it is retried every tick until it goes through, so no
// row is ever skipped permanently.
type OutboxPublisher struct {
	store    OutboxStore
	bus      EventPublisher
	interval time.Duration
	logger   *logrus.Logger
}

func NewOutboxPublisher(store OutboxStore, bus EventPublisher, interval time.Duration, logger *logrus.Logger) *OutboxPublisher {
	return &OutboxPublisher{
		store:    store,
		bus:      bus,
		interval: interval,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled, observing cancellation between ticks,
// never mid-publish.
func (p *OutboxPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.interval).Info("Outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox publisher stopped")
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain publishes pending rows oldest-first. Each successful send is
// persisted individually before moving on, so a failure later in the batch
// never rolls back earlier successes.
func (p *OutboxPublisher) drain(ctx context.Context) {
	messages, err := p.store.GetUnsent(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Failed to fetch unsent outbox messages")
		return
	}

	for i := range messages {
		message := &messages[i]

		event := models.PublishEvent{
			MessageID:   message.MessageID,
			EventType:   message.EventType,
			EventData:   message.EventData,
			TimeCreated: message.TimeCreated,
		}

		if err := p.bus.Publish(ctx, event); err != nil {
			// Row stays unsent; the next tick picks it up again.
			p.logger.WithError(err).WithField("message_id", message.MessageID).Warn("Could not publish outbox message")
			return
		}

		if err := p.store.MarkSent(ctx, message.MessageID); err != nil {
			// The message went out but the flag did not stick; it will be
			// republished and deduplicated by the consumer's inbox.
			p.logger.WithError(err).WithField("message_id", message.MessageID).Error("Failed to mark outbox message as sent")
			return
		}

		p.logger.WithFields(logrus.Fields{
			"message_id": message.MessageID,
			"event_type": message.EventType,
		}).Info("Outbox message published")
	}
}
