package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims defines the session token payload issued by LocalBackend.
type Claims struct {
	UserID   string `json:"uid"`
	Provider string `json:"prv"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates session tokens.
type TokenManager struct {
	secret        []byte
	ttl           time.Duration
	signingMethod jwt.SigningMethod
}

// NewTokenManager builds a TokenManager with the provided secret and lifetime.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret:        []byte(secret),
		ttl:           ttl,
		signingMethod: jwt.SigningMethodHS256,
	}
}

// Issue creates a signed session token whose ID is sessionID.
func (m *TokenManager) Issue(sessionID, userID, provider string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		UserID:   userID,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(m.signingMethod, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// SessionID verifies the token signature and returns its ID, ignoring expiry.
func (m *TokenManager) SessionID(tokenString string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != m.signingMethod {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("token has no session id")
	}
	return claims.ID, nil
}
