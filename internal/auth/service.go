// Package auth checks credentials and issues sessions, either directly or
// after an emailed second factor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sphere-health-server/internal/config"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/otp"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/users"
	"sphere-health-server/internal/utils"
)

// MinPasswordLength is the shortest password accepted anywhere.
const MinPasswordLength = 8

var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and
	// disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordPolicy     = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrUnauthenticated    = errors.New("invalid or expired session")
)

// compared against when the email is unknown so both paths cost one bcrypt
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("sphere-dummy-password"), bcrypt.DefaultCost)
	return h
})

// Registration is the sign-up form shared by doctors and patients.
type Registration struct {
	Username        string
	Email           string
	Name            string
	ContactNo       string
	Password        string
	ConfirmPassword string
	Specialization  string
	Age             *int
	Sex             string
}

// Result is the outcome of a login step. Either AccessToken and User are set,
// or RequiresTwoFactor and TempToken are.
type Result struct {
	AccessToken       string         `json:"access_token,omitempty"`
	TokenType         string         `json:"token_type"`
	RequiresTwoFactor bool           `json:"requires_2fa"`
	TempToken         string         `json:"temp_token,omitempty"`
	User              *users.Profile `json:"user,omitempty"`
}

// Service is the credential and session issuer.
type Service struct {
	users    *users.Directory
	codes    *otp.Channel
	secret   string
	tokenTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewService creates a Service signing access tokens with cfg.JWTSecret.
func NewService(dir *users.Directory, codes *otp.Channel, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		users:    dir,
		codes:    codes,
		secret:   cfg.JWTSecret,
		tokenTTL: time.Duration(cfg.JWTExpirationMinutes) * time.Minute,
		log:      log.With().Str("component", "auth").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidatePassword enforces the password policy on a new password and its
// confirmation.
func ValidatePassword(password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordPolicy
	}
	return nil
}

// RegisterDoctor creates a doctor account.
func (s *Service) RegisterDoctor(ctx context.Context, in Registration) (*models.User, error) {
	return s.register(ctx, in, models.RoleDoctor)
}

// RegisterPatient creates a patient account.
func (s *Service) RegisterPatient(ctx context.Context, in Registration) (*models.User, error) {
	return s.register(ctx, in, models.RolePatient)
}

func (s *Service) register(ctx context.Context, in Registration, role models.Role) (*models.User, error) {
	if err := ValidatePassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}
	u := users.NewUser{
		Username:  in.Username,
		Email:     in.Email,
		Name:      in.Name,
		ContactNo: in.ContactNo,
		Password:  in.Password,
		Role:      role,
	}
	switch role {
	case models.RoleDoctor:
		u.Specialization = in.Specialization
	case models.RolePatient:
		u.Age = in.Age
		u.Sex = in.Sex
	}
	return s.users.Create(ctx, u)
}

// Login checks email and password. With the second factor on it emails a
// code and returns a temporary token; otherwise it returns a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.CheckPassword(password) || !u.IsActive {
		s.log.Info().Str("user_id", u.ID).Msg("login rejected")
		return nil, ErrInvalidCredentials
	}

	if u.TwoFactorEnabled {
		token, err := s.codes.Issue(ctx, u.ID, models.PurposeLogin)
		if err != nil {
			return nil, err
		}
		return &Result{TokenType: "bearer", RequiresTwoFactor: true, TempToken: token}, nil
	}
	return s.complete(ctx, u)
}

// VerifyTwoFactor exchanges a login temporary token and its code for a
// session.
func (s *Service) VerifyTwoFactor(ctx context.Context, token, code string) (*Result, error) {
	c, err := s.codes.Verify(ctx, token, code, models.PurposeLogin)
	if err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, otp.ErrTokenInvalid
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return s.complete(ctx, u)
}

// ResendCode emails a fresh code for token. The previous code stops working.
func (s *Service) ResendCode(ctx context.Context, token string) error {
	return s.codes.Resend(ctx, token)
}

// RequestPasswordReset always returns a temporary token. Only an active
// account gets a real code; any other address gets a token that can never
// verify.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return "", err
	}
	if u == nil || !u.IsActive {
		return s.codes.IssueDecoy(ctx, models.PurposePasswordReset)
	}
	return s.codes.Issue(ctx, u.ID, models.PurposePasswordReset)
}

// ResetPassword sets a new password once the reset code checks out. The
// password is validated first so a typo does not burn the code.
func (s *Service) ResetPassword(ctx context.Context, token, code, password, confirm string) error {
	if err := ValidatePassword(password, confirm); err != nil {
		return err
	}
	c, err := s.codes.Verify(ctx, token, code, models.PurposePasswordReset)
	if err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return otp.ErrTokenInvalid
		}
		return err
	}
	if err := s.users.SetPassword(ctx, u, password); err != nil {
		return err
	}
	s.log.Info().Str("user_id", u.ID).Msg("password reset")
	return nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, sess *session.Session, current, password, confirm string) error {
	if err := ValidatePassword(password, confirm); err != nil {
		return err
	}
	u, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if !u.CheckPassword(current) {
		return ErrWrongPassword
	}
	if err := s.users.SetPassword(ctx, u, password); err != nil {
		return err
	}
	s.log.Info().Str("user_id", u.ID).Msg("password changed")
	return nil
}

// SetTwoFactor turns the caller's email second factor on or off.
func (s *Service) SetTwoFactor(ctx context.Context, sess *session.Session, enabled bool) error {
	if err := s.users.SetTwoFactor(ctx, sess.UserID, enabled); err != nil {
		return err
	}
	s.log.Info().Str("user_id", sess.UserID).Bool("enabled", enabled).Msg("two-factor setting changed")
	return nil
}

// Authenticate resolves an access token to a session. The role comes from
// the account row, and disabled accounts are refused even with a valid token.
func (s *Service) Authenticate(ctx context.Context, token string) (*session.Session, error) {
	claims, err := utils.ValidateToken(token, s.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	u, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUnauthenticated
	}
	return &session.Session{UserID: u.ID, Role: u.Role}, nil
}

func (s *Service) complete(ctx context.Context, u *models.User) (*Result, error) {
	now := s.now()
	token, err := utils.GenerateAccessToken(u, s.secret, s.tokenTTL, now)
	if err != nil {
		return nil, err
	}
	if err := s.users.TouchLastLogin(ctx, u, now); err != nil {
		return nil, err
	}
	profile := s.users.View(u)
	s.log.Info().Str("user_id", u.ID).Msg("login succeeded")
	return &Result{AccessToken: token, TokenType: "bearer", User: &profile}, nil
}
