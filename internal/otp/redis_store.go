package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sphere-health-server/internal/config"
	"sphere-health-server/internal/models"
)

const redisKeyPrefix = "sphere:challenge:"

// replaceScript swaps the code only if the challenge still exists.
var replaceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'code_hash', ARGV[1], 'expires_at', ARGV[2])
return 1
`)

// attemptScript counts a guess without recreating a challenge that is gone.
var attemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// consumeScript deletes the challenge if the code matches and neither the code
// nor the token has expired.
var consumeScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'code_hash', 'expires_at', 'token_expires_at')
if not v[1] or v[1] ~= ARGV[1] then
	return 0
end
if tonumber(v[2]) <= tonumber(ARGV[2]) or tonumber(v[3]) <= tonumber(ARGV[2]) then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore keeps one hash per challenge. Keys expire on their own together
// with the temporary token, so token expiry is enforced by redis itself.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient connects and pings redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(tokenHash string) string {
	return redisKeyPrefix + tokenHash
}

func (s *RedisStore) Create(ctx context.Context, c *models.Challenge) error {
	key := redisKey(c.TokenHash)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", c.UserID,
			"purpose", string(c.Purpose),
			"code_hash", c.CodeHash,
			"expires_at", c.ExpiresAt.UnixMilli(),
			"token_expires_at", c.TokenExpiresAt.UnixMilli(),
			"attempts", c.Attempts,
			"created_at", c.CreatedAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, c.TokenExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, tokenHash string) (*models.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge expiry: %w", err)
	}
	tokenExpiresAt, err := strconv.ParseInt(fields["token_expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge token expiry: %w", err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge attempt count: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge creation time: %w", err)
	}

	return &models.Challenge{
		TokenHash:      tokenHash,
		UserID:         fields["user_id"],
		Purpose:        models.ChallengePurpose(fields["purpose"]),
		CodeHash:       fields["code_hash"],
		ExpiresAt:      time.UnixMilli(expiresAt).UTC(),
		TokenExpiresAt: time.UnixMilli(tokenExpiresAt).UTC(),
		Attempts:       attempts,
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
	}, nil
}

func (s *RedisStore) ReplaceCode(ctx context.Context, tokenHash, codeHash string, expiresAt time.Time) error {
	ok, err := replaceScript.Run(ctx, s.client, []string{redisKey(tokenHash)},
		codeHash, expiresAt.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to replace code: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Attempt(ctx context.Context, tokenHash string) (int, error) {
	n, err := attemptScript.Run(ctx, s.client, []string{redisKey(tokenHash)}).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (s *RedisStore) Consume(ctx context.Context, tokenHash, codeHash string, now time.Time) error {
	ok, err := consumeScript.Run(ctx, s.client, []string{redisKey(tokenHash)},
		codeHash, now.UnixMilli()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, redisKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op; redis evicts challenges through key expiry.
func (s *RedisStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
