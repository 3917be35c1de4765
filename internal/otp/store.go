package otp

import (
	"context"
	"time"

	"sphere-health-server/internal/models"
)

// Store persists challenges. Implementations make ReplaceCode, Attempt and
// Consume atomic so two codes are never valid for one token, no guess goes
// uncounted and a code verifies at most once.
type Store interface {
	Create(ctx context.Context, c *models.Challenge) error
	Find(ctx context.Context, tokenHash string) (*models.Challenge, error)
	// ReplaceCode swaps in a new code hash and code expiry. The token expiry
	// and the attempt count are left alone.
	ReplaceCode(ctx context.Context, tokenHash, codeHash string, expiresAt time.Time) error
	// Attempt counts one verification attempt and returns the new total.
	Attempt(ctx context.Context, tokenHash string) (int, error)
	// Consume deletes the challenge only if codeHash is current and both the
	// code and the token are unexpired at now. It returns ErrNotFound
	// otherwise.
	Consume(ctx context.Context, tokenHash, codeHash string, now time.Time) error
	Delete(ctx context.Context, tokenHash string) error
	// PurgeExpired removes challenges whose token expired before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
