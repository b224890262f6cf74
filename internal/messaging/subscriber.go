package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

// InboxStore is the received-event table used for idempotent consumption.
type InboxStore interface {
	Get(ctx context.Context, messageID string) (*models.InboxMessage, error)
	Create(ctx context.Context, message *models.InboxMessage) error
	MarkProcessed(ctx context.Context, messageID string) error
}

// DeliveryConsumer opens a manual-ack delivery stream.
type DeliveryConsumer interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// EventHandler applies one event payload. Handlers must stay idempotent
// regardless of the inbox guard; that is the defense in depth the
// at-least-once contract relies on.
type EventHandler func(ctx context.Context, eventData string) error

// Subscriber consumes broker deliveries, deduplicates them through the
// inbox store and routes them to the registered handler for their event
// type. A failed handler leaves the inbox row unprocessed and dead-letters
// the delivery instead of requeueing it, so a poison message cannot loop.
type Subscriber struct {
	bus        DeliveryConsumer
	inbox      InboxStore
	handlers   map[string]EventHandler
	retryDelay time.Duration
	logger     *logrus.Logger
}

func NewSubscriber(bus DeliveryConsumer, inbox InboxStore, retryDelay time.Duration, logger *logrus.Logger) *Subscriber {
	return &Subscriber{
		bus:        bus,
		inbox:      inbox,
		handlers:   make(map[string]EventHandler),
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Handle registers the handler for an event type. Not safe to call after
// Run has started.
func (s *Subscriber) Handle(eventType string, handler EventHandler) {
	s.handlers[eventType] = handler
}

// Run consumes deliveries until ctx is cancelled. When the stream closes
// because the connection dropped, it waits for the background reconnect and
// subscribes again.
func (s *Subscriber) Run(ctx context.Context) {
	s.logger.Info("Listening on the message bus")

	for {
		if ctx.Err() != nil {
			s.logger.Info("Subscriber stopped")
			return
		}

		deliveries, err := s.bus.Consume(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Could not open delivery stream, retrying")
			select {
			case <-ctx.Done():
				s.logger.Info("Subscriber stopped")
				return
			case <-time.After(s.retryDelay):
			}
			continue
		}

		s.consume(ctx, deliveries)
	}
}

func (s *Subscriber) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			s.dispatch(ctx, &delivery)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, delivery *amqp.Delivery) {
	if err := s.process(ctx, delivery.Body); err != nil {
		s.logger.WithError(err).Error("Event processing failed, dead-lettering delivery")
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			s.logger.WithError(nackErr).Error("Failed to reject delivery")
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		s.logger.WithError(err).Error("Failed to acknowledge delivery")
	}
}

// process applies one delivery body. A nil return means the delivery can be
// acknowledged: handled successfully, recognized as a duplicate, or carrying
// an event type this consumer does not know (newer producers may emit types
// we have no handler for yet).
func (s *Subscriber) process(ctx context.Context, body []byte) error {
	var event models.PublishEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.WithError(err).Warn("Could not decode event envelope, dropping delivery")
		return nil
	}

	handler, ok := s.handlers[event.EventType]
	if !ok {
		s.logger.WithField("event_type", event.EventType).Info("No handler for event type, dropping delivery")
		return nil
	}

	existing, err := s.inbox.Get(ctx, event.MessageID)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.IsProcessed {
			s.logger.WithField("message_id", event.MessageID).Debug("Duplicate message, skipping")
			return nil
		}
		// The row exists but an earlier attempt failed; run the handler
		// again without recreating it.
	} else {
		message := &models.InboxMessage{
			MessageID:   event.MessageID,
			EventType:   event.EventType,
			EventData:   event.EventData,
			IsProcessed: false,
			TimeCreated: event.TimeCreated,
		}
		if err := s.inbox.Create(ctx, message); err != nil {
			if errors.Is(err, errs.ErrDuplicateMessage) {
				s.logger.WithField("message_id", event.MessageID).Debug("Concurrent consumer recorded the message first, skipping")
				return nil
			}
			return err
		}
	}

	if err := handler(ctx, event.EventData); err != nil {
		return err
	}

	return s.inbox.MarkProcessed(ctx, event.MessageID)
}
