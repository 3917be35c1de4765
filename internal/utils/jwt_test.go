package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sphere-health-server/internal/models"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	user := &models.User{BaseModel: models.BaseModel{ID: "user-1"}, Role: models.RoleDoctor}
	token, err := GenerateAccessToken(user, "secret", 30*time.Minute, time.Now())
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleDoctor, claims.Role)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestValidateTokenRejects(t *testing.T) {
	user := &models.User{BaseModel: models.BaseModel{ID: "user-1"}, Role: models.RolePatient}

	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateAccessToken(user, "secret", time.Minute, time.Now())
		require.NoError(t, err)
		_, err = ValidateToken(token, "other")
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := GenerateAccessToken(user, "secret", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = ValidateToken(token, "secret")
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("missing type", func(t *testing.T) {
		claims := &Claims{
			UserID: user.ID,
			Role:   user.Role,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = ValidateToken(token, "secret")
		assert.ErrorIs(t, err, ErrWrongTokenType)
	})

	t.Run("no expiry", func(t *testing.T) {
		claims := &Claims{UserID: user.ID, Role: user.Role, Type: TokenTypeAccess}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = ValidateToken(token, "secret")
		assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{UserID: user.ID, Type: TokenTypeAccess}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = ValidateToken(token, "secret")
		assert.Error(t, err)
	})
}
