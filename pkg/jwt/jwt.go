package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identifies a field worker. UserID is the user name records are
// owned by.
type Claims struct {
	UserID       string `json:"user_id"`
	Organisation string `json:"organisation,omitempty"`
	Verified     bool   `json:"verified"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for an unverified user with no organisation.
func GenerateToken(userID string, expiration time.Duration, secret string) (string, error) {
	return NewToken(Claims{UserID: userID}, expiration, secret)
}

// NewToken signs claims with HS256, filling in the registered timestamps.
func NewToken(claims Claims, expiration time.Duration, secret string) (string, error) {
	now := time.Now()
	claims.ID = uuid.New().String()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiration))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
