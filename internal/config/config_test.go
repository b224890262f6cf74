package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-0123456789-0123456789"
	testRefreshSecret = "refresh-secret-0123456789-0123456789"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "IdentityTable", cfg.DynamoDB.TableName)
	assert.Equal(t, "localhost:6379", cfg.Redis.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.Redis.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.Bus.RetryDelay)
	assert.Equal(t, "identio", cfg.JWT.Issuer)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsShortSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("RABBITMQ_QUEUE", "auth_service_subscriber_queue")
	t.Setenv("RABBITMQ_RETRY_DELAY", "2s")
	t.Setenv("JWT_AUDIENCES", "identio, identio-admin")
	t.Setenv("OUTBOX_POLL_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "auth_service_subscriber_queue", cfg.Bus.QueueName)
	assert.Equal(t, 2*time.Second, cfg.Bus.RetryDelay)
	assert.Equal(t, []string{"identio", "identio-admin"}, cfg.JWT.Audiences)
	assert.Equal(t, 500*time.Millisecond, cfg.Outbox.PollInterval)
}

func TestInvalidDurationFallsBackToDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RABBITMQ_RETRY_DELAY", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Bus.RetryDelay)
}
