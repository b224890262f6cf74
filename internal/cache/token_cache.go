package cache

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

// Connection is the resilient store the token cache runs against.
type Connection interface {
	Execute(ctx context.Context, op func(db Commands) error) error
}

// ClaimExtractor decodes a signed refresh token into its claims.
type ClaimExtractor interface {
	ExtractClaims(refreshToken string) (*models.RefreshTokenClaims, error)
}

// How long the first caller waits for the connection factory before the
// operation fails with errs.ErrTimeout.
const initializationTimeout = 15 * time.Second

const revokedValue = "revoked"

// TokenCache tracks the active refresh tokens of each user and a revocation
// blacklist. The blacklist is authoritative: a token is revoked iff its
// blacklist key exists. The per-user set is advisory, used for logout-all
// and cleanup.
//
// Every underlying failure crosses this boundary as *errs.CacheError with
// the cause attached; callers never see the store's own error taxonomy.
type TokenCache struct {
	extractor ClaimExtractor
	logger    *logrus.Logger

	ready   chan struct{}
	conn    Connection
	connErr error
}

// NewTokenCache starts the connection factory in the background. Operations
// invoked before it finishes wait up to initializationTimeout.
func NewTokenCache(factory func() (Connection, error), extractor ClaimExtractor, logger *logrus.Logger) *TokenCache {
	c := &TokenCache{
		extractor: extractor,
		logger:    logger,
		ready:     make(chan struct{}),
	}

	go func() {
		c.conn, c.connErr = factory()
		close(c.ready)
	}()

	return c
}

func (c *TokenCache) connection(ctx context.Context) (Connection, error) {
	timer := time.NewTimer(initializationTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		if c.connErr != nil {
			return nil, c.connErr
		}
		return c.conn, nil
	case <-timer.C:
		return nil, errs.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsRevoked checks the blacklist for the token. A store failure surfaces as
// a cache error, never as "not revoked".
func (c *TokenCache) IsRevoked(ctx context.Context, refreshToken string) (bool, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Revocation check failed: token cache connection not ready")
		return false, &errs.CacheError{Op: "check revocation", Err: err}
	}

	var exists bool
	err = conn.Execute(ctx, func(db Commands) error {
		n, err := db.Exists(ctx, refreshToken).Result()
		if err != nil {
			return err
		}
		exists = n > 0
		return nil
	})

	if err != nil {
		c.logger.WithError(err).Error("Revocation check failed")
		return false, &errs.CacheError{Op: "check revocation", Err: err}
	}

	return exists, nil
}

// Revoke blacklists the token for its remaining lifetime and removes it from
// the owner's active set. The blacklist write comes first: if the set
// removal fails afterwards the token is still correctly revoked. A token
// whose claims cannot be extracted is rejected permanently, not retried.
func (c *TokenCache) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := c.extractor.ExtractClaims(refreshToken)
	if err != nil {
		c.logger.WithError(err).Warn("Token revocation rejected: claims could not be extracted")
		return &errs.CacheError{Op: "revoke token", Err: err}
	}

	remaining := time.Until(claims.ExpiresAt)
	if remaining <= 0 {
		// Already past its natural expiry; keep the marker around briefly
		// so concurrent checks still observe the revocation.
		remaining = time.Second
	}

	conn, err := c.connection(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Token revocation failed: token cache connection not ready")
		return &errs.CacheError{Op: "revoke token", Err: err}
	}

	err = conn.Execute(ctx, func(db Commands) error {
		return db.Set(ctx, refreshToken, revokedValue, remaining).Err()
	})
	if err != nil {
		c.logger.WithError(err).Error("Token revocation failed: blacklist write")
		return &errs.CacheError{Op: "revoke token", Err: err}
	}

	err = conn.Execute(ctx, func(db Commands) error {
		return db.SRem(ctx, claims.UserID, refreshToken).Err()
	})
	if err != nil {
		c.logger.WithError(err).Error("Token revocation failed: active-set removal")
		return &errs.CacheError{Op: "revoke token", Err: err}
	}

	c.logger.WithField("user_id", claims.UserID).Info("Refresh token revoked")
	return nil
}

// RevokeAll revokes every tracked token of the user. Revocation is monotonic
// so a failure partway through leaves already-revoked tokens revoked; the
// failure still surfaces to the caller.
func (c *TokenCache) RevokeAll(ctx context.Context, userID string) error {
	conn, err := c.connection(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Revoke-all failed: token cache connection not ready")
		return &errs.CacheError{Op: "revoke all tokens", Err: err}
	}

	var members []string
	err = conn.Execute(ctx, func(db Commands) error {
		var err error
		members, err = db.SMembers(ctx, userID).Result()
		return err
	})
	if err != nil {
		c.logger.WithError(err).Error("Revoke-all failed: could not read active set")
		return &errs.CacheError{Op: "revoke all tokens", Err: err}
	}

	for _, member := range members {
		if err := c.Revoke(ctx, member); err != nil {
			c.logger.WithError(err).WithField("user_id", userID).Error("Revoke-all failed partway")
			return err
		}
	}

	return nil
}

// Close releases the underlying connection if one was ever established.
// A factory still in flight is left alone; its connection dies with the
// process.
func (c *TokenCache) Close() error {
	select {
	case <-c.ready:
	default:
		return nil
	}

	if c.connErr != nil || c.conn == nil {
		return nil
	}
	if closer, ok := c.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Track adds the token to the user's active set. Additive only.
func (c *TokenCache) Track(ctx context.Context, userID, refreshToken string) error {
	conn, err := c.connection(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Token tracking failed: token cache connection not ready")
		return &errs.CacheError{Op: "track token", Err: err}
	}

	err = conn.Execute(ctx, func(db Commands) error {
		return db.SAdd(ctx, userID, refreshToken).Err()
	})
	if err != nil {
		c.logger.WithError(err).Error("Token tracking failed")
		return &errs.CacheError{Op: "track token", Err: err}
	}

	return nil
}
