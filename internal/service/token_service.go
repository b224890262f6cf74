package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/config"
	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/models"
)

// TokenService mints access/refresh token pairs and decodes refresh tokens.
// Access and refresh tokens are signed with separate secrets.
type TokenService struct {
	cfg    *config.JWTConfig
	logger *logrus.Logger
}

func NewTokenService(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenService, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, fmt.Errorf("token secrets must be at least 32 bytes")
	}

	return &TokenService{
		cfg:    cfg,
		logger: logger,
	}, nil
}

type AccessClaims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// GeneratePair mints a fresh access+refresh token pair for the user.
func (s *TokenService) GeneratePair(user *models.User) (*models.TokenPair, error) {
	now := time.Now()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessClaims{
		UserID:   user.UserID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings(s.cfg.Audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessExpiry)),
		},
	})
	accessToken, err := access.SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, &refreshClaims{
		UserID: user.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings(s.cfg.Audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshExpiry)),
		},
	})
	refreshToken, err := refresh.SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessExpiry.Seconds()),
	}, nil
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.AccessSecret), nil
	}, jwt.WithIssuer(s.cfg.Issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// ExtractClaims validates a refresh token's signature and issuer with zero
// clock skew and returns the claims revocation logic depends on. Any failure
// is a claim error: permanent for this token, never retried.
func (s *TokenService) ExtractClaims(refreshToken string) (*models.RefreshTokenClaims, error) {
	token, err := jwt.ParseWithClaims(refreshToken, &refreshClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.RefreshSecret), nil
	}, jwt.WithIssuer(s.cfg.Issuer))

	if err != nil {
		return nil, &errs.ClaimError{Reason: "token is not valid", Err: err}
	}

	claims, ok := token.Claims.(*refreshClaims)
	if !ok || !token.Valid {
		return nil, &errs.ClaimError{Reason: "token is not valid"}
	}

	if claims.UserID == "" {
		return nil, &errs.ClaimError{Reason: "user id claim not found"}
	}

	if claims.ExpiresAt == nil {
		return nil, &errs.ClaimError{Reason: "expiration claim not found"}
	}

	return &models.RefreshTokenClaims{
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
