package service

import (
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identio/identio/internal/config"
	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		AccessSecret:  "access-secret-0123456789-0123456789",
		RefreshSecret: "refresh-secret-0123456789-0123456789",
		Issuer:        "identio",
		Audiences:     []string{"identio"},
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
}

func testUser() *models.User {
	return &models.User{
		UserID:   "user-123",
		Username: "alice",
		Email:    "alice@example.com",
		Role:     "User",
	}
}

func TestNewTokenServiceRejectsShortSecrets(t *testing.T) {
	cfg := testJWTConfig()
	cfg.AccessSecret = "too-short"

	_, err := NewTokenService(cfg, testLogger())
	assert.Error(t, err)
}

func TestGeneratePairAndVerifyAccessToken(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), testLogger())
	require.NoError(t, err)

	pair, err := svc.GeneratePair(testUser())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "User", claims.Role)
	assert.Equal(t, "identio", claims.Issuer)
}

func TestVerifyAccessTokenRejectsRefreshToken(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), testLogger())
	require.NoError(t, err)

	pair, err := svc.GeneratePair(testUser())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(pair.RefreshToken)
	assert.Error(t, err)
}

func TestVerifyAccessTokenRejectsWrongIssuer(t *testing.T) {
	otherCfg := testJWTConfig()
	otherCfg.Issuer = "someone-else"
	other, err := NewTokenService(otherCfg, testLogger())
	require.NoError(t, err)

	pair, err := other.GeneratePair(testUser())
	require.NoError(t, err)

	svc, err := NewTokenService(testJWTConfig(), testLogger())
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestExtractClaimsRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	svc, err := NewTokenService(cfg, testLogger())
	require.NoError(t, err)

	pair, err := svc.GeneratePair(testUser())
	require.NoError(t, err)

	claims, err := svc.ExtractClaims(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(cfg.RefreshExpiry), claims.ExpiresAt, 5*time.Second)
}

func TestExtractClaimsRejectsAccessToken(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), testLogger())
	require.NoError(t, err)

	pair, err := svc.GeneratePair(testUser())
	require.NoError(t, err)

	_, err = svc.ExtractClaims(pair.AccessToken)
	var claimErr *errs.ClaimError
	require.ErrorAs(t, err, &claimErr)
}

func TestExtractClaimsRejectsGarbage(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), testLogger())
	require.NoError(t, err)

	_, err = svc.ExtractClaims("not-a-token")
	var claimErr *errs.ClaimError
	require.ErrorAs(t, err, &claimErr)
}

func TestExtractClaimsRejectsMissingUserID(t *testing.T) {
	cfg := testJWTConfig()
	svc, err := NewTokenService(cfg, testLogger())
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(cfg.RefreshSecret))
	require.NoError(t, err)

	_, err = svc.ExtractClaims(signed)
	var claimErr *errs.ClaimError
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, "user id claim not found", claimErr.Reason)
}
