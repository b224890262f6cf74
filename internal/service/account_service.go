package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

// AccountStore is the authentication-side user repository surface.
type AccountStore interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, userID string) error
}

// AccountService applies user events received from the user service to the
// authentication service's local user copies. Handlers are idempotent so
// redelivered events are harmless even past the inbox guard.
type AccountService struct {
	users  AccountStore
	cache  RevocationCache
	logger *logrus.Logger
}

func NewAccountService(users AccountStore, cache RevocationCache, logger *logrus.Logger) *AccountService {
	return &AccountService{
		users:  users,
		cache:  cache,
		logger: logger,
	}
}

// ApplyUserCreated stores the local copy of a newly registered user. An
// already existing user means the event was applied before; that is a no-op.
func (s *AccountService) ApplyUserCreated(ctx context.Context, eventData string) error {
	var event models.UserCreatedEvent
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal user created event: %w", err)
	}

	if event.UserID == "" {
		return fmt.Errorf("user created event is missing a user id")
	}

	user := &models.User{
		UserID:       event.UserID,
		Username:     event.Username,
		Email:        event.Email,
		PasswordHash: event.PasswordHash,
		Role:         event.Role,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, errs.ErrUserExists) {
			s.logger.WithField("user_id", event.UserID).Debug("User already exists locally, skipping creation event")
			return nil
		}
		return err
	}

	s.logger.WithField("user_id", event.UserID).Info("User created from event")
	return nil
}

// ApplyUserDeleted removes the local copy and revokes every token the user
// still holds, so deleted accounts cannot keep authenticating.
func (s *AccountService) ApplyUserDeleted(ctx context.Context, eventData string) error {
	var event models.UserDeletedEvent
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal user deleted event: %w", err)
	}

	user, err := s.users.GetByID(ctx, event.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: %s", errs.ErrUserNotFound, event.UserID)
	}

	if err := s.users.Delete(ctx, event.UserID); err != nil {
		return err
	}

	if err := s.cache.RevokeAll(ctx, event.UserID); err != nil {
		return err
	}

	s.logger.WithField("user_id", event.UserID).Info("User deleted from event, all tokens revoked")
	return nil
}
