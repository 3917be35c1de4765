package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sphere-health-server/internal/config"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/otp"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/testutil"
	"sphere-health-server/internal/users"
)

type fixture struct {
	svc     *Service
	dir     *users.Directory
	channel *otp.Channel
	outbox  *testutil.Outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	dir := users.NewDirectory(db, testutil.Engine(t), testutil.Keys(t).Indexer, zerolog.Nop())
	outbox := &testutil.Outbox{}
	channel := otp.NewChannel(otp.NewGormStore(db), outbox, dir, otp.DefaultTTL, zerolog.Nop())
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpirationMinutes: 30}
	return &fixture{
		svc:     NewService(dir, channel, cfg, zerolog.Nop()),
		dir:     dir,
		channel: channel,
		outbox:  outbox,
	}
}

// register creates an admin first so the account under test keeps its role.
func (f *fixture) register(t *testing.T, email string, twoFactor bool) *models.User {
	t.Helper()
	ctx := context.Background()
	if all, err := f.dir.List(ctx, ""); err == nil && len(all) == 0 {
		_, err := f.svc.RegisterDoctor(ctx, Registration{
			Username: "root", Email: "root@example.com", Name: "Root",
			Password: "password123", ConfirmPassword: "password123",
		})
		require.NoError(t, err)
	}
	age := 30
	u, err := f.svc.RegisterPatient(ctx, Registration{
		Username:        email,
		Email:           email,
		Name:            "Jane Doe",
		Password:        "password123",
		ConfirmPassword: "password123",
		Age:             &age,
		Sex:             "F",
	})
	require.NoError(t, err)
	if !twoFactor {
		require.NoError(t, f.dir.SetTwoFactor(ctx, u.ID, false))
	}
	return u
}

func (f *fixture) lastLogin(t *testing.T, id string) *time.Time {
	t.Helper()
	u, err := f.dir.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u.LastLogin
}

func TestRegisterValidatesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterPatient(ctx, Registration{Username: "a", Email: "a@example.com", Password: "password123", ConfirmPassword: "password124"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	_, err = f.svc.RegisterPatient(ctx, Registration{Username: "a", Email: "a@example.com", Password: "short", ConfirmPassword: "short"})
	assert.ErrorIs(t, err, ErrPasswordPolicy)
}

func TestRegisterKeepsRoleSpecificAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "jane@example.com", true)

	doc, err := f.svc.RegisterDoctor(ctx, Registration{
		Username: "house", Email: "house@example.com", Name: "House",
		Password: "password123", ConfirmPassword: "password123",
		Specialization: "Diagnostics", Sex: "M",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleDoctor, doc.Role)

	p := f.dir.View(doc)
	require.NotNil(t, p.Specialization)
	assert.Equal(t, "Diagnostics", *p.Specialization)
	assert.Nil(t, p.Sex)
}

func TestLoginWithoutTwoFactor(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "jane@example.com", false)

	res, err := f.svc.Login(context.Background(), "jane@example.com", "password123")
	require.NoError(t, err)
	assert.False(t, res.RequiresTwoFactor)
	assert.Empty(t, res.TempToken)
	require.NotEmpty(t, res.AccessToken)
	require.NotNil(t, res.User)
	assert.Equal(t, u.ID, res.User.ID)
	assert.NotNil(t, f.lastLogin(t, u.ID))
	assert.Empty(t, f.outbox.Messages())

	sess, err := f.svc.Authenticate(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &session.Session{UserID: u.ID, Role: models.RolePatient}, sess)
}

func TestLoginWithTwoFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "jane@example.com", true)

	res, err := f.svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, res.RequiresTwoFactor)
	assert.Empty(t, res.AccessToken)
	assert.Nil(t, res.User)
	require.NotEmpty(t, res.TempToken)
	assert.Nil(t, f.lastLogin(t, u.ID))

	_, err = f.svc.Authenticate(ctx, res.TempToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	code, ok := f.outbox.LastCode("jane@example.com")
	require.True(t, ok)

	done, err := f.svc.VerifyTwoFactor(ctx, res.TempToken, code)
	require.NoError(t, err)
	assert.NotEmpty(t, done.AccessToken)
	require.NotNil(t, done.User)
	require.NotNil(t, done.User.Email)
	assert.Equal(t, "jane@example.com", *done.User.Email)
	assert.NotNil(t, f.lastLogin(t, u.ID))

	_, err = f.svc.VerifyTwoFactor(ctx, res.TempToken, code)
	assert.ErrorIs(t, err, otp.ErrTokenInvalid)
}

func TestResendCodeInvalidatesOldCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "jane@example.com", true)

	res, err := f.svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)
	oldCode, _ := f.outbox.LastCode("jane@example.com")

	require.NoError(t, f.svc.ResendCode(ctx, res.TempToken))
	newCode, _ := f.outbox.LastCode("jane@example.com")
	assert.Len(t, f.outbox.Messages(), 2)

	if oldCode != newCode {
		_, err = f.svc.VerifyTwoFactor(ctx, res.TempToken, oldCode)
		assert.ErrorIs(t, err, otp.ErrCodeMismatch)
	}
	_, err = f.svc.VerifyTwoFactor(ctx, res.TempToken, newCode)
	assert.NoError(t, err)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "jane@example.com", false)

	_, err := f.svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "jane@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	admin := adminSession(t, f)
	_, err = f.dir.ToggleActive(ctx, admin, u.ID)
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "jane@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, f.lastLogin(t, u.ID))
}

func TestAuthenticateRejectsDisabledAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "jane@example.com", false)

	res, err := f.svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	_, err = f.dir.ToggleActive(ctx, adminSession(t, f), u.ID)
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "jane@example.com", false)

	token, err := f.svc.RequestPasswordReset(ctx, "jane@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	f.channel.Wait()

	code, ok := f.outbox.LastCode("jane@example.com")
	require.True(t, ok)
	assert.Contains(t, f.outbox.Messages()[0].Subject, "Password Reset")

	err = f.svc.ResetPassword(ctx, token, code, "newpassword1", "different")
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	// a reset token does not complete a login
	_, err = f.svc.VerifyTwoFactor(ctx, token, code)
	assert.ErrorIs(t, err, otp.ErrTokenInvalid)

	require.NoError(t, f.svc.ResetPassword(ctx, token, code, "newpassword1", "newpassword1"))

	_, err = f.svc.Login(ctx, "jane@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "jane@example.com", "newpassword1")
	assert.NoError(t, err)

	err = f.svc.ResetPassword(ctx, token, code, "another-pass", "another-pass")
	assert.ErrorIs(t, err, otp.ErrTokenInvalid)
}

func TestPasswordResetForUnknownEmailLooksTheSame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "jane@example.com", false)

	token, err := f.svc.RequestPasswordReset(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	f.channel.Wait()
	assert.Empty(t, f.outbox.Messages())

	require.NoError(t, f.svc.ResendCode(ctx, token))

	err = f.svc.ResetPassword(ctx, token, "123456", "newpassword1", "newpassword1")
	assert.ErrorIs(t, err, otp.ErrCodeMismatch)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "jane@example.com", false)
	sess := &session.Session{UserID: u.ID, Role: u.Role}

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, sess, "wrong-password", "newpassword1", "newpassword1"), ErrWrongPassword)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, sess, "password123", "short", "short"), ErrPasswordPolicy)
	require.NoError(t, f.svc.ChangePassword(ctx, sess, "password123", "newpassword1", "newpassword1"))

	_, err := f.svc.Login(ctx, "jane@example.com", "newpassword1")
	assert.NoError(t, err)
}

func TestSetTwoFactorChangesLoginPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "jane@example.com", false)
	sess := &session.Session{UserID: u.ID, Role: u.Role}

	require.NoError(t, f.svc.SetTwoFactor(ctx, sess, true))
	res, err := f.svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, res.RequiresTwoFactor)

	require.NoError(t, f.svc.SetTwoFactor(ctx, sess, false))
	res, err = f.svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)
	assert.False(t, res.RequiresTwoFactor)
}

func TestLoginRecordsLastLoginTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "jane@example.com", false)

	tick := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.svc.now = func() time.Time { return tick }

	_, err := f.svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)
	got := f.lastLogin(t, u.ID)
	require.NotNil(t, got)
	assert.True(t, tick.Equal(*got))
}

func adminSession(t *testing.T, f *fixture) *session.Session {
	t.Helper()
	admin, err := f.dir.FindByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, admin.Role)
	return &session.Session{UserID: admin.ID, Role: admin.Role}
}
