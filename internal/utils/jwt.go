package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sphere-health-server/internal/models"
)

// TokenTypeAccess marks a session token. Temporary tokens are opaque and
// never JWTs, so anything else found in the claim is rejected.
const TokenTypeAccess = "access"

// ErrWrongTokenType is returned when a token does not carry the access type.
var ErrWrongTokenType = errors.New("token is not an access token")

// Claims represents the JWT claims.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	Type   string      `json:"type"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs a session token for user valid for ttl.
func GenerateAccessToken(user *models.User, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses an HS256 access token, requiring an expiry. Expiry
// failures wrap jwt.ErrTokenExpired.
func ValidateToken(tokenString string, secretKey string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
