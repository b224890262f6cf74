package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

// UserStore is the user lookup the authenticator needs. A nil user with a
// nil error means not found.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// RevocationCache is the token cache surface consumed by the authenticator
// and the event handlers.
type RevocationCache interface {
	IsRevoked(ctx context.Context, refreshToken string) (bool, error)
	Revoke(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) error
	Track(ctx context.Context, userID, refreshToken string) error
}

// TokenCodec mints token pairs and decodes refresh tokens.
type TokenCodec interface {
	GeneratePair(user *models.User) (*models.TokenPair, error)
	ExtractClaims(refreshToken string) (*models.RefreshTokenClaims, error)
}

// Authenticator orchestrates login, logout, logout-everywhere and token
// rotation. It is stateless; every failure leaving it is an *errs.AuthError
// classified as user-fault (invalid credentials or token, do not retry) or
// server-fault (transient, retry is safe).
type Authenticator struct {
	users  UserStore
	tokens TokenCodec
	cache  RevocationCache
	logger *logrus.Logger
}

func NewAuthenticator(users UserStore, tokens TokenCodec, cache RevocationCache, logger *logrus.Logger) *Authenticator {
	return &Authenticator{
		users:  users,
		tokens: tokens,
		cache:  cache,
		logger: logger,
	}
}

// Login verifies the credentials and returns a tracked token pair. A pair is
// never returned when tracking failed: an untracked token could not be
// revoked later.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*models.TokenPair, error) {
	user, err := a.users.GetByUsername(ctx, username)
	if err != nil {
		a.logger.WithError(err).Error("Login failed: user lookup")
		return nil, errs.ServerFault("could not look up user", err)
	}
	if user == nil {
		return nil, errs.UserFault("invalid credentials", errs.ErrUserNotFound)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errs.UserFault("invalid credentials", nil)
	}

	pair, err := a.tokens.GeneratePair(user)
	if err != nil {
		a.logger.WithError(err).Error("Login failed: token generation")
		return nil, errs.ServerFault("could not issue tokens", err)
	}

	if err := a.cache.Track(ctx, user.UserID, pair.RefreshToken); err != nil {
		a.logger.WithError(err).Error("Login failed: token tracking")
		return nil, errs.ServerFault("could not track issued token", err)
	}

	return pair, nil
}

// Logout revokes the single refresh token.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) error {
	if err := a.cache.Revoke(ctx, refreshToken); err != nil {
		return a.classifyCacheFailure(err, "invalid token", "could not revoke token")
	}
	return nil
}

// LogoutEverywhere revokes every tracked token of the user.
func (a *Authenticator) LogoutEverywhere(ctx context.Context, userID string) error {
	if err := a.cache.RevokeAll(ctx, userID); err != nil {
		return a.classifyCacheFailure(err, "invalid token", "could not revoke tokens")
	}
	return nil
}

// Rotate exchanges a valid, unrevoked refresh token for a fresh pair. The
// revocation check runs first and short-circuits everything else.
func (a *Authenticator) Rotate(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	revoked, err := a.cache.IsRevoked(ctx, refreshToken)
	if err != nil {
		a.logger.WithError(err).Error("Token rotation failed: revocation check")
		return nil, errs.ServerFault("could not check token revocation", err)
	}
	if revoked {
		return nil, errs.UserFault("token has been revoked", nil)
	}

	claims, err := a.tokens.ExtractClaims(refreshToken)
	if err != nil {
		var claimErr *errs.ClaimError
		if errors.As(err, &claimErr) {
			return nil, errs.UserFault("invalid token", err)
		}
		a.logger.WithError(err).Error("Token rotation failed: claim extraction")
		return nil, errs.ServerFault("could not decode token", err)
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		a.logger.WithError(err).Error("Token rotation failed: user lookup")
		return nil, errs.ServerFault("could not look up user", err)
	}
	if user == nil {
		return nil, errs.UserFault("invalid token", errs.ErrUserNotFound)
	}

	pair, err := a.tokens.GeneratePair(user)
	if err != nil {
		a.logger.WithError(err).Error("Token rotation failed: token generation")
		return nil, errs.ServerFault("could not issue tokens", err)
	}

	if err := a.cache.Track(ctx, user.UserID, pair.RefreshToken); err != nil {
		a.logger.WithError(err).Error("Token rotation failed: token tracking")
		return nil, errs.ServerFault("could not track issued token", err)
	}

	return pair, nil
}

// classifyCacheFailure maps a cache error to the binary fault taxonomy: a
// claim extraction failure buried in the cause is the client's fault,
// anything else is infrastructure.
func (a *Authenticator) classifyCacheFailure(err error, userMessage, serverMessage string) *errs.AuthError {
	var claimErr *errs.ClaimError
	if errors.As(err, &claimErr) {
		return errs.UserFault(userMessage, err)
	}
	a.logger.WithError(err).Error("Token cache operation failed")
	return errs.ServerFault(serverMessage, err)
}
