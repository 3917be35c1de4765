package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sphere-health-server/internal/mailer"
	"sphere-health-server/internal/models"
)

const (
	// DefaultTTL is how long a code stays valid.
	DefaultTTL = 5 * time.Minute
	// DefaultResendWindow is how long after the first code's expiry a token
	// can still request a new code. A token never outlives ttl plus this
	// window, however often it is resent.
	DefaultResendWindow = 10 * time.Minute
	// DefaultMaxAttempts is how many codes may be tried against one token.
	DefaultMaxAttempts = 5

	deliveryTimeout = 30 * time.Second
)

// Recipients resolves the address a user's codes are sent to.
type Recipients interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// Channel issues, resends and verifies codes.
type Channel struct {
	store        Store
	mailer       mailer.Mailer
	recipients   Recipients
	log          zerolog.Logger
	ttl          time.Duration
	resendWindow time.Duration
	maxAttempts  int
	now          func() time.Time

	deliveries sync.WaitGroup
}

// NewChannel creates a Channel with a code lifetime of ttl.
func NewChannel(store Store, m mailer.Mailer, recipients Recipients, ttl time.Duration, log zerolog.Logger) *Channel {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Channel{
		store:        store,
		mailer:       m,
		recipients:   recipients,
		log:          log.With().Str("component", "otp").Logger(),
		ttl:          ttl,
		resendWindow: DefaultResendWindow,
		maxAttempts:  DefaultMaxAttempts,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a challenge for userID, emails the code and returns the
// temporary token.
func (ch *Channel) Issue(ctx context.Context, userID string, purpose models.ChallengePurpose) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}

	c := ch.newChallenge(token, code, purpose)
	c.UserID = userID
	if err := ch.store.Create(ctx, c); err != nil {
		return "", err
	}

	if err := ch.deliver(ctx, userID, purpose, code); err != nil {
		if delErr := ch.store.Delete(ctx, c.TokenHash); delErr != nil {
			ch.log.Error().Err(delErr).Msg("failed to drop undeliverable challenge")
		}
		return "", err
	}
	return token, nil
}

// IssueDecoy returns a token that looks like a real one but can never be
// verified and sends nothing. It answers requests for unknown accounts.
func (ch *Channel) IssueDecoy(ctx context.Context, purpose models.ChallengePurpose) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	filler, err := NewToken()
	if err != nil {
		return "", err
	}

	c := ch.newChallenge(token, filler, purpose)
	if err := ch.store.Create(ctx, c); err != nil {
		return "", err
	}
	return token, nil
}

// Verify checks code against token. On success the challenge is consumed and
// returned so the caller can finish the flow for its user. Every try counts
// against the token; the last allowed miss destroys it.
func (ch *Channel) Verify(ctx context.Context, token, code string, purpose models.ChallengePurpose) (*models.Challenge, error) {
	tokenHash := HashToken(token)
	c, err := ch.live(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if c.Purpose != purpose {
		return nil, ErrTokenInvalid
	}

	now := ch.now()
	if !now.Before(c.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	attempts, err := ch.store.Attempt(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if attempts > ch.maxAttempts {
		ch.drop(ctx, tokenHash)
		return nil, ErrTokenInvalid
	}

	codeHash := HashCode(token, code)
	if c.UserID == "" || subtle.ConstantTimeCompare([]byte(codeHash), []byte(c.CodeHash)) != 1 {
		if attempts == ch.maxAttempts {
			ch.drop(ctx, tokenHash)
			ch.log.Warn().Str("purpose", string(purpose)).Msg("challenge locked after too many wrong codes")
			return nil, ErrTokenInvalid
		}
		return nil, ErrCodeMismatch
	}

	if err := ch.store.Consume(ctx, tokenHash, codeHash, now); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// lost a race with another verify or a resend
		if _, findErr := ch.store.Find(ctx, tokenHash); errors.Is(findErr, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, ErrCodeMismatch
	}
	return c, nil
}

// Resend replaces the code for token and emails the new one. The old code
// stops verifying at once. The new code never outlives the token. Decoy
// tokens are refreshed the same way but nothing is sent.
func (ch *Channel) Resend(ctx context.Context, token string) error {
	tokenHash := HashToken(token)
	c, err := ch.live(ctx, tokenHash)
	if err != nil {
		return err
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	codeHash := HashCode(token, code)
	if c.UserID == "" {
		filler, err := NewToken()
		if err != nil {
			return err
		}
		codeHash = HashCode(token, filler)
	}

	expiresAt := ch.now().Add(ch.ttl)
	if expiresAt.After(c.TokenExpiresAt) {
		expiresAt = c.TokenExpiresAt
	}
	if err := ch.store.ReplaceCode(ctx, tokenHash, codeHash, expiresAt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}

	if c.UserID == "" {
		return nil
	}
	return ch.deliver(ctx, c.UserID, c.Purpose, code)
}

// Purge removes challenges whose token has expired.
func (ch *Channel) Purge(ctx context.Context) (int64, error) {
	return ch.store.PurgeExpired(ctx, ch.now())
}

// Wait blocks until background deliveries finish.
func (ch *Channel) Wait() {
	ch.deliveries.Wait()
}

// live loads a challenge that can still be verified or resent.
func (ch *Channel) live(ctx context.Context, tokenHash string) (*models.Challenge, error) {
	c, err := ch.store.Find(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !ch.now().Before(c.TokenExpiresAt) || c.Attempts >= ch.maxAttempts {
		return nil, ErrTokenInvalid
	}
	return c, nil
}

func (ch *Channel) newChallenge(token, code string, purpose models.ChallengePurpose) *models.Challenge {
	now := ch.now()
	return &models.Challenge{
		TokenHash:      HashToken(token),
		Purpose:        purpose,
		CodeHash:       HashCode(token, code),
		ExpiresAt:      now.Add(ch.ttl),
		TokenExpiresAt: now.Add(ch.ttl + ch.resendWindow),
		CreatedAt:      now,
	}
}

func (ch *Channel) drop(ctx context.Context, tokenHash string) {
	if err := ch.store.Delete(ctx, tokenHash); err != nil {
		ch.log.Error().Err(err).Msg("failed to drop locked challenge")
	}
}

// deliver emails the code. Password reset mail goes out in the background so
// that a request for a real account takes as long as one for an unknown
// address.
func (ch *Channel) deliver(ctx context.Context, userID string, purpose models.ChallengePurpose, code string) error {
	send := func(ctx context.Context) error {
		to, err := ch.recipients.EmailFor(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to resolve recipient: %w", err)
		}
		msg := mailer.VerificationCode(to, code, ch.ttl)
		if purpose == models.PurposePasswordReset {
			msg = mailer.PasswordResetCode(to, code, ch.ttl)
		}
		return ch.mailer.Send(ctx, msg)
	}

	if purpose != models.PurposePasswordReset {
		if err := send(ctx); err != nil {
			return fmt.Errorf("failed to send verification code: %w", err)
		}
		return nil
	}

	ch.deliveries.Add(1)
	go func() {
		defer ch.deliveries.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()
		if err := send(bg); err != nil {
			ch.log.Error().Err(err).Str("user_id", userID).Msg("password reset email failed")
		}
	}()
	return nil
}
