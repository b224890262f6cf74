package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/config"
	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

// ExchangeName is the durable fanout exchange both services share. Every
// bound queue receives every published message; there is no routing key.
const ExchangeName = "trigger"

// BusConnection owns one logical connection+channel to the broker. It
// declares the fanout exchange and, when a queue name is configured, a
// durable non-exclusive queue bound to it. Lost connections are re-dialed in
// the background with a fixed delay; while the connection is down every
// publish fails fast with errs.ErrBusUnavailable instead of blocking.
type BusConnection struct {
	url        string
	queueName  string
	retryDelay time.Duration
	logger     *logrus.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	available  atomic.Bool
	connecting atomic.Bool
	closed     atomic.Bool
}

func NewBusConnection(cfg *config.BusConfig, logger *logrus.Logger) *BusConnection {
	return &BusConnection{
		url:        cfg.URL,
		queueName:  cfg.QueueName,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Connect blocks until a connection is established, retrying with a fixed
// delay between attempts, or until ctx is cancelled.
func (b *BusConnection) Connect(ctx context.Context) error {
	b.connecting.Store(true)
	defer b.connecting.Store(false)

	for {
		if b.closed.Load() {
			return errs.ErrBusUnavailable
		}

		err := b.connect()
		if err == nil {
			return nil
		}

		b.logger.WithError(err).Error("Could not connect to the message bus, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay):
		}
	}
}

func (b *BusConnection) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("failed to dial message bus: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if b.queueName != "" {
		if _, err := channel.QueueDeclare(b.queueName, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare queue: %w", err)
		}
		if err := channel.QueueBind(b.queueName, "", ExchangeName, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = channel
	b.mu.Unlock()
	b.available.Store(true)

	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(closes)

	b.logger.Info("Connected to message bus")
	return nil
}

// watch waits for the connection to shut down and triggers one reconnect.
// An intentional Close never re-triggers a connect.
func (b *BusConnection) watch(closes chan *amqp.Error) {
	reason, ok := <-closes
	if b.closed.Load() {
		return
	}

	b.available.Store(false)
	if ok {
		b.logger.WithField("reason", reason.Error()).Warn("Message bus connection shut down")
	} else {
		b.logger.Warn("Message bus connection shut down")
	}

	b.reconnect()
}

// reconnect starts a single background Connect loop. The CAS guard prevents
// overlapping reconnect storms when several callers observe the outage at
// once.
func (b *BusConnection) reconnect() {
	if !b.connecting.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer b.connecting.Store(false)
		for {
			if b.closed.Load() {
				return
			}
			if err := b.connect(); err == nil {
				return
			} else {
				b.logger.WithError(err).Error("Could not reconnect to the message bus, retrying")
			}
			time.Sleep(b.retryDelay)
		}
	}()
}

// Publish sends one envelope to the fanout exchange. While the connection is
// unavailable it fails fast and leaves retrying to the caller; the outbox
// publisher simply tries again on its next tick.
func (b *BusConnection) Publish(ctx context.Context, event models.PublishEvent) error {
	if !b.available.Load() {
		return errs.ErrBusUnavailable
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	b.mu.Lock()
	channel := b.channel
	b.mu.Unlock()
	if channel == nil {
		return errs.ErrBusUnavailable
	}

	err = channel.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.MessageID,
		Timestamp:    event.TimeCreated,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrBusUnavailable, err)
	}

	return nil
}

// Consume opens a manual-ack delivery stream from the bound queue. The
// returned channel closes when the connection drops; callers re-invoke
// Consume after the background reconnect restores it.
func (b *BusConnection) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	if !b.available.Load() {
		return nil, errs.ErrBusUnavailable
	}

	b.mu.Lock()
	channel := b.channel
	b.mu.Unlock()
	if channel == nil {
		return nil, errs.ErrBusUnavailable
	}

	deliveries, err := channel.ConsumeWithContext(ctx, b.queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBusUnavailable, err)
	}

	return deliveries, nil
}

// Close tears the connection down for good. The closed flag is set first so
// the shutdown notification cannot re-trigger a reconnect.
func (b *BusConnection) Close() {
	b.closed.Store(true)
	b.available.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			b.logger.WithError(err).Debug("Failed to close bus channel")
		}
		b.channel = nil
	}

	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.logger.WithError(err).Debug("Failed to close bus connection")
		}
		b.conn = nil
	}

	b.logger.Info("Message bus connection closed")
}
