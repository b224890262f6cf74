package models

import "time"

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshTokenClaims is the decoded form of a refresh token. Never persisted;
// reconstructed from the signed token whenever revocation logic needs it.
type RefreshTokenClaims struct {
	UserID    string
	ExpiresAt time.Time
}
