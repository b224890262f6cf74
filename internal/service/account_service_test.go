package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

type fakeAccountStore struct {
	users map[string]*models.User
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{users: make(map[string]*models.User)}
}

func (f *fakeAccountStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return f.users[userID], nil
}

func (f *fakeAccountStore) Create(ctx context.Context, user *models.User) error {
	if _, exists := f.users[user.UserID]; exists {
		return errs.ErrUserExists
	}
	f.users[user.UserID] = user
	return nil
}

func (f *fakeAccountStore) Delete(ctx context.Context, userID string) error {
	delete(f.users, userID)
	return nil
}

func userCreatedPayload(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(models.UserCreatedEvent{
		UserID:       "user-123",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$hash",
		Role:         "User",
	})
	require.NoError(t, err)
	return string(data)
}

func TestApplyUserCreatedStoresLocalCopy(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewAccountService(store, newFakeRevocationCache(), testLogger())

	require.NoError(t, svc.ApplyUserCreated(context.Background(), userCreatedPayload(t)))

	user := store.users["user-123"]
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "$2a$10$hash", user.PasswordHash)
}

func TestApplyUserCreatedIsIdempotent(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewAccountService(store, newFakeRevocationCache(), testLogger())

	payload := userCreatedPayload(t)
	require.NoError(t, svc.ApplyUserCreated(context.Background(), payload))
	require.NoError(t, svc.ApplyUserCreated(context.Background(), payload))
	assert.Len(t, store.users, 1)
}

func TestApplyUserCreatedRejectsMissingUserID(t *testing.T) {
	svc := NewAccountService(newFakeAccountStore(), newFakeRevocationCache(), testLogger())

	err := svc.ApplyUserCreated(context.Background(), `{"username":"alice"}`)
	assert.Error(t, err)
}

func TestApplyUserCreatedRejectsMalformedPayload(t *testing.T) {
	svc := NewAccountService(newFakeAccountStore(), newFakeRevocationCache(), testLogger())

	err := svc.ApplyUserCreated(context.Background(), "{not json")
	assert.Error(t, err)
}

func TestApplyUserDeletedRemovesUserAndRevokesTokens(t *testing.T) {
	store := newFakeAccountStore()
	store.users["user-123"] = testUser()
	cache := newFakeRevocationCache()
	svc := NewAccountService(store, cache, testLogger())

	payload, err := json.Marshal(models.UserDeletedEvent{UserID: "user-123"})
	require.NoError(t, err)

	require.NoError(t, svc.ApplyUserDeleted(context.Background(), string(payload)))
	assert.Empty(t, store.users)
	assert.Equal(t, []string{"user-123"}, cache.revokedAllFor)
}

func TestApplyUserDeletedUnknownUser(t *testing.T) {
	svc := NewAccountService(newFakeAccountStore(), newFakeRevocationCache(), testLogger())

	payload, err := json.Marshal(models.UserDeletedEvent{UserID: "ghost"})
	require.NoError(t, err)

	err = svc.ApplyUserDeleted(context.Background(), string(payload))
	assert.ErrorIs(t, err, errs.ErrUserNotFound)
}
