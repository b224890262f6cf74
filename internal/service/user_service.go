package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

const DefaultUserRole = "User"

// UserWriter is the repository surface the user service mutates through.
// The WithEvent methods persist the mutation and its outbox row in one
// transaction.
type UserWriter interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	CreateWithEvent(ctx context.Context, user *models.User, message *models.OutboxMessage) error
	DeleteWithEvent(ctx context.Context, user *models.User, message *models.OutboxMessage) error
}

// UserService owns user registration and deletion on the producing side.
// Each mutation writes its domain event into the outbox within the same
// transaction; the background publisher delivers it later.
type UserService struct {
	users  UserWriter
	logger *logrus.Logger
}

func NewUserService(users UserWriter, logger *logrus.Logger) *UserService {
	return &UserService{
		users:  users,
		logger: logger,
	}
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errs.ErrUserNotFound
	}
	return user, nil
}

// Register creates the user and stages a User_Created event atomically. The
// event payload carries the password hash so the authentication service can
// verify logins against its own copy.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	existing, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.ErrUserExists
	}

	existing, err = s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		UserID:       uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         DefaultUserRole,
	}

	message, err := newOutboxMessage(models.EventUserCreated, models.UserCreatedEvent{
		UserID:       user.UserID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
	})
	if err != nil {
		return nil, err
	}

	if err := s.users.CreateWithEvent(ctx, user, message); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    user.UserID,
		"message_id": message.MessageID,
	}).Info("User registered, creation event staged in outbox")

	return user, nil
}

// DeleteUser removes the user and stages a User_Deleted event atomically.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return errs.ErrUserNotFound
	}

	message, err := newOutboxMessage(models.EventUserDeleted, models.UserDeletedEvent{
		UserID: user.UserID,
	})
	if err != nil {
		return err
	}

	if err := s.users.DeleteWithEvent(ctx, user, message); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    user.UserID,
		"message_id": message.MessageID,
	}).Info("User deleted, deletion event staged in outbox")

	return nil
}

func newOutboxMessage(eventType string, payload interface{}) (*models.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	return &models.OutboxMessage{
		MessageID:   uuid.New().String(),
		EventType:   eventType,
		EventData:   string(data),
		IsSent:      false,
		TimeCreated: time.Now(),
	}, nil
}
