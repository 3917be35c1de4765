package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sphere-health-server/internal/models"
	"sphere-health-server/internal/testutil"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func storesUnderTest(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"gorm": func(t *testing.T) Store { return NewGormStore(testutil.NewDB(t)) },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}
}

func sampleChallenge(now time.Time) *models.Challenge {
	return &models.Challenge{
		TokenHash:      HashToken("token-1"),
		UserID:         "user-1",
		Purpose:        models.PurposeLogin,
		CodeHash:       HashCode("token-1", "111111"),
		ExpiresAt:      now.Add(DefaultTTL),
		TokenExpiresAt: now.Add(DefaultTTL + DefaultResendWindow),
		CreatedAt:      now,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC().Truncate(time.Millisecond)

			t.Run("find missing", func(t *testing.T) {
				s := newStore(t)
				_, err := s.Find(ctx, HashToken("nope"))
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("create and find", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				require.NoError(t, s.Create(ctx, c))

				got, err := s.Find(ctx, c.TokenHash)
				require.NoError(t, err)
				assert.Equal(t, c.UserID, got.UserID)
				assert.Equal(t, c.Purpose, got.Purpose)
				assert.Equal(t, c.CodeHash, got.CodeHash)
				assert.True(t, c.ExpiresAt.Equal(got.ExpiresAt), "expires %v != %v", c.ExpiresAt, got.ExpiresAt)
				assert.True(t, c.TokenExpiresAt.Equal(got.TokenExpiresAt), "token expires %v != %v", c.TokenExpiresAt, got.TokenExpiresAt)
				assert.Zero(t, got.Attempts)
			})

			t.Run("attempts accumulate across replace", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				require.NoError(t, s.Create(ctx, c))

				n, err := s.Attempt(ctx, c.TokenHash)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
				n, err = s.Attempt(ctx, c.TokenHash)
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				require.NoError(t, s.ReplaceCode(ctx, c.TokenHash, HashCode("token-1", "333333"), now.Add(time.Hour)))
				got, err := s.Find(ctx, c.TokenHash)
				require.NoError(t, err)
				assert.Equal(t, 2, got.Attempts)
				assert.True(t, c.TokenExpiresAt.Equal(got.TokenExpiresAt), "replace moved the token expiry")

				_, err = s.Attempt(ctx, HashToken("nope"))
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("consume rejects expired token", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				c.TokenExpiresAt = now.Add(time.Minute)
				require.NoError(t, s.Create(ctx, c))

				assert.ErrorIs(t, s.Consume(ctx, c.TokenHash, c.CodeHash, now.Add(2*time.Minute)), ErrNotFound)
			})

			t.Run("consume is single use", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				require.NoError(t, s.Create(ctx, c))

				require.NoError(t, s.Consume(ctx, c.TokenHash, c.CodeHash, now))
				assert.ErrorIs(t, s.Consume(ctx, c.TokenHash, c.CodeHash, now), ErrNotFound)

				_, err := s.Find(ctx, c.TokenHash)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("consume rejects wrong code and expiry", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				require.NoError(t, s.Create(ctx, c))

				assert.ErrorIs(t, s.Consume(ctx, c.TokenHash, HashCode("token-1", "222222"), now), ErrNotFound)
				assert.ErrorIs(t, s.Consume(ctx, c.TokenHash, c.CodeHash, c.ExpiresAt.Add(time.Second)), ErrNotFound)

				_, err := s.Find(ctx, c.TokenHash)
				assert.NoError(t, err, "failed consume must leave the challenge in place")
			})

			t.Run("replace invalidates old code", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				require.NoError(t, s.Create(ctx, c))

				newHash := HashCode("token-1", "333333")
				require.NoError(t, s.ReplaceCode(ctx, c.TokenHash, newHash, now.Add(DefaultTTL)))

				assert.ErrorIs(t, s.Consume(ctx, c.TokenHash, c.CodeHash, now), ErrNotFound)
				assert.NoError(t, s.Consume(ctx, c.TokenHash, newHash, now))
			})

			t.Run("replace missing", func(t *testing.T) {
				s := newStore(t)
				err := s.ReplaceCode(ctx, HashToken("nope"), "x", now.Add(DefaultTTL))
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("delete", func(t *testing.T) {
				s := newStore(t)
				c := sampleChallenge(now)
				require.NoError(t, s.Create(ctx, c))
				require.NoError(t, s.Delete(ctx, c.TokenHash))

				_, err := s.Find(ctx, c.TokenHash)
				assert.ErrorIs(t, err, ErrNotFound)
			})
		})
	}
}

func TestGormStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(testutil.NewDB(t))
	now := time.Now().UTC()

	old := sampleChallenge(now.Add(-time.Hour))
	fresh := sampleChallenge(now)
	fresh.TokenHash = HashToken("token-2")
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, fresh))

	n, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Find(ctx, fresh.TokenHash)
	assert.NoError(t, err)
}

func TestRedisStoreExpiresKeys(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	now := time.Now().UTC()

	c := sampleChallenge(now)
	require.NoError(t, s.Create(ctx, c))
	assert.True(t, mr.Exists(redisKey(c.TokenHash)))

	mr.FastForward(DefaultTTL + DefaultResendWindow + time.Minute)
	assert.False(t, mr.Exists(redisKey(c.TokenHash)))

	n, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
