package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/config"
	"github.com/identio/identio/internal/errs"
)

// Commands is the subset of Redis operations the token cache runs. The
// concrete *redis.Client satisfies it.
type Commands interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

const (
	// The client library retries internally, so limit how often we swap the
	// whole connection in an attempt to reconnect.
	reconnectMinInterval = 60 * time.Second

	// Errors must persist this long before we give up on the client healing
	// itself and recreate the connection.
	reconnectErrorThreshold = 30 * time.Second

	// Bounded wait for the reconnect slot. A caller that cannot take it
	// gives up; another reconnect is already in flight.
	restartConnectionTimeout = 15 * time.Second
)

// RedisConnection owns a single Redis client handle and heals it in the
// background. Operations run against the current client; a connection-class
// failure is surfaced to the caller immediately while a reconnect attempt is
// kicked off asynchronously so the next call may succeed. The client pointer
// is swapped atomically, never mutated in place.
type RedisConnection struct {
	opts   *redis.Options
	logger *logrus.Logger

	client        atomic.Pointer[redis.Client]
	lastReconnect atomic.Int64 // unix nanos of the last successful swap

	reconnectSlot chan struct{}

	mu                sync.Mutex // guards the error-window timestamps
	firstErrorTime    time.Time
	previousErrorTime time.Time

	now  func() time.Time
	dial func(ctx context.Context) (*redis.Client, error)
}

// InitializeRedisConnection dials Redis and returns a self-healing handle.
// The initial dial is bounded by cfg.DialTimeout; exceeding it is reported
// as errs.ErrTimeout, distinct from a plain connection failure.
func InitializeRedisConnection(ctx context.Context, cfg *config.RedisConfig, logger *logrus.Logger) (*RedisConnection, error) {
	opts := &redis.Options{
		Addr:     cfg.Endpoint,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	c := &RedisConnection{
		opts:          opts,
		logger:        logger,
		reconnectSlot: make(chan struct{}, 1),
		now:           time.Now,
	}
	c.dial = c.dialRedis

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	client, err := c.dial(dialCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", errs.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrConnection, err)
	}

	c.client.Store(client)
	c.lastReconnect.Store(c.now().UnixNano())
	logger.Info("Redis connection initialized")
	return c, nil
}

func (c *RedisConnection) dialRedis(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(c.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Execute runs op against the current client. A connection-class failure is
// returned to the caller unmasked, tagged with errs.ErrConnection, while a
// background reconnect is triggered for subsequent calls.
func (c *RedisConnection) Execute(ctx context.Context, op func(db Commands) error) error {
	client := c.client.Load()
	if client == nil {
		go c.forceReconnect()
		return errs.ErrConnection
	}

	err := op(client)
	if err != nil && isConnectionError(err) {
		go c.forceReconnect()
		return fmt.Errorf("%w: %w", errs.ErrConnection, err)
	}

	return err
}

// forceReconnect swaps in a fresh client, at most once per
// reconnectMinInterval and only after errors have persisted for
// reconnectErrorThreshold. The slot channel serializes attempts; a caller
// that cannot take the slot within restartConnectionTimeout gives up.
func (c *RedisConnection) forceReconnect() {
	if c.sinceLastReconnect() < reconnectMinInterval {
		return
	}

	timer := time.NewTimer(restartConnectionTimeout)
	defer timer.Stop()
	select {
	case c.reconnectSlot <- struct{}{}:
	case <-timer.C:
		return
	}
	defer func() { <-c.reconnectSlot }()

	if c.sinceLastReconnect() < reconnectMinInterval {
		return // another caller reconnected while we waited for the slot
	}

	utcNow := c.now()
	if !c.errorWindowElapsed(utcNow) {
		return
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), restartConnectionTimeout)
	defer cancel()

	newClient, err := c.dial(dialCtx)
	if err != nil {
		c.logger.WithError(err).Error("Redis reconnect attempt failed")
		return
	}

	old := c.client.Swap(newClient)
	c.lastReconnect.Store(utcNow.UnixNano())
	if old != nil {
		// Close only after the new client is installed so in-flight
		// operations never observe a half-swapped state.
		if err := old.Close(); err != nil {
			c.logger.WithError(err).Debug("Failed to close old Redis client")
		}
	}

	c.logger.Info("Redis connection re-established")
}

func (c *RedisConnection) sinceLastReconnect() time.Duration {
	return c.now().Sub(time.Unix(0, c.lastReconnect.Load()))
}

// errorWindowElapsed tracks the span of continuous errors and reports
// whether the connection should actually be replaced: errors must have
// lasted at least reconnectErrorThreshold, without a gap longer than the
// threshold (stale data means the client may have healed in between).
func (c *RedisConnection) errorWindowElapsed(utcNow time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.firstErrorTime.IsZero() {
		// First error since the last reconnect; start the window.
		c.firstErrorTime = utcNow
		c.previousErrorTime = utcNow
		return false
	}

	elapsedSinceFirstError := utcNow.Sub(c.firstErrorTime)
	elapsedSinceMostRecentError := utcNow.Sub(c.previousErrorTime)
	c.previousErrorTime = utcNow

	if elapsedSinceFirstError < reconnectErrorThreshold || elapsedSinceMostRecentError > reconnectErrorThreshold {
		return false
	}

	c.firstErrorTime = time.Time{}
	c.previousErrorTime = time.Time{}
	return true
}

// Close releases the current client. No reconnects fire afterwards because
// Execute on a closed client reports redis.ErrClosed to the caller only.
func (c *RedisConnection) Close() error {
	if client := c.client.Swap(nil); client != nil {
		return client.Close()
	}
	return nil
}

// isConnectionError reports whether err indicates the connection itself is
// broken, as opposed to a command error or a deadline set by the caller.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
