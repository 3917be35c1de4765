package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sphere-health-server/internal/models"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/testutil"
)

func newTestDirectory(t *testing.T) (*Directory, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	return NewDirectory(db, testutil.Engine(t), testutil.Keys(t).Indexer, zerolog.Nop()), db
}

func doctorInput(username, email string) NewUser {
	return NewUser{
		Username:       username,
		Email:          email,
		Name:           "Dr " + username,
		ContactNo:      "555-0100",
		Password:       "password123",
		Role:           models.RoleDoctor,
		Specialization: "Cardiology",
	}
}

func patientInput(username, email string) NewUser {
	age := 42
	return NewUser{
		Username: username,
		Email:    email,
		Name:     "Patient " + username,
		Password: "password123",
		Role:     models.RolePatient,
		Age:      &age,
		Sex:      "F",
	}
}

func TestCreateFirstUserBecomesAdmin(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	first, err := dir.Create(ctx, patientInput("first", "first@example.com"))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, first.Role)
	assert.True(t, first.TwoFactorEnabled)
	assert.True(t, first.IsActive)

	second, err := dir.Create(ctx, patientInput("second", "second@example.com"))
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, second.Role)
}

func TestCreateConcurrentFirstSignUps(t *testing.T) {
	ctx := context.Background()
	dir, db := newTestDirectory(t)

	const workers = 4
	var wg sync.WaitGroup
	created := make(chan *models.User, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			u, err := dir.Create(ctx, patientInput(name, name+"@example.com"))
			if assert.NoError(t, err) {
				created <- u
			}
		}(i)
	}
	wg.Wait()
	close(created)

	var admins []string
	for u := range created {
		if u.Role == models.RoleAdmin {
			admins = append(admins, u.ID)
		}
	}
	require.Len(t, admins, 1)

	var claim models.Bootstrap
	require.NoError(t, db.First(&claim, "name = ?", models.BootstrapFirstAdmin).Error)
	assert.Equal(t, admins[0], claim.UserID)
}

func TestCreateLosingFirstAdminClaim(t *testing.T) {
	ctx := context.Background()
	dir, db := newTestDirectory(t)

	// another sign-up holds the claim but its account is not visible yet
	require.NoError(t, db.Create(&models.Bootstrap{Name: models.BootstrapFirstAdmin, UserID: "other"}).Error)

	u, err := dir.Create(ctx, patientInput("late", "late@example.com"))
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, u.Role)
}

func TestCreateConcurrentDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := dir.Create(ctx, patientInput(fmt.Sprintf("jane%d", i), "jane@example.com"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrEmailTaken)
	}
	assert.Equal(t, 1, ok)
}

func TestCreateSealsPersonalData(t *testing.T) {
	ctx := context.Background()
	dir, db := newTestDirectory(t)

	u, err := dir.Create(ctx, doctorInput("house", "house@example.com"))
	require.NoError(t, err)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", u.ID).Error)
	for _, col := range []string{stored.UsernameEnc, stored.EmailEnc, stored.NameEnc, stored.ContactNoEnc, stored.SpecializationEnc} {
		assert.True(t, strings.HasPrefix(col, "v1:"), col)
	}
	assert.NotContains(t, stored.EmailEnc, "house@example.com")
	assert.True(t, strings.HasPrefix(stored.SpecializationEnc, "v1:x25519-hpke:"))
	assert.True(t, strings.HasPrefix(stored.EmailEnc, "v1:rsa-oaep:"))
	assert.Empty(t, stored.AgeEnc)
	assert.True(t, stored.CheckPassword("password123"))
}

func TestCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	_, err := dir.Create(ctx, patientInput("jane", "jane@example.com"))
	require.NoError(t, err)

	_, err = dir.Create(ctx, patientInput("jane2", " JANE@example.com"))
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = dir.Create(ctx, patientInput("Jane", "other@example.com"))
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestFindByEmailAndView(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)
	_, err := dir.Create(ctx, doctorInput("admin", "admin@example.com"))
	require.NoError(t, err)
	created, err := dir.Create(ctx, patientInput("jane", "jane@example.com"))
	require.NoError(t, err)

	found, err := dir.FindByEmail(ctx, "Jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	p := dir.View(found)
	require.NotNil(t, p.Email)
	assert.Equal(t, "jane@example.com", *p.Email)
	require.NotNil(t, p.Age)
	assert.Equal(t, 42, *p.Age)
	require.NotNil(t, p.Sex)
	assert.Equal(t, "F", *p.Sex)
	assert.Nil(t, p.Specialization)

	_, err = dir.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	addr, err := dir.EmailFor(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", addr)
}

func TestViewToleratesCorruptField(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)
	u, err := dir.Create(ctx, patientInput("jane", "jane@example.com"))
	require.NoError(t, err)

	u.NameEnc = "v1:rsa-oaep:AAAA"
	p := dir.View(u)
	assert.Nil(t, p.Name)
	require.NotNil(t, p.Email)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)
	_, err := dir.Create(ctx, patientInput("root", "root@example.com"))
	require.NoError(t, err)
	doc, err := dir.Create(ctx, doctorInput("house", "house@example.com"))
	require.NoError(t, err)
	pat, err := dir.Create(ctx, patientInput("jane", "jane@example.com"))
	require.NoError(t, err)

	name := "Gregory House"
	spec := "Diagnostics"
	updated, err := dir.UpdateProfile(ctx, &session.Session{UserID: doc.ID, Role: doc.Role}, ProfileUpdate{Name: &name, Specialization: &spec})
	require.NoError(t, err)
	p := dir.View(updated)
	assert.Equal(t, name, *p.Name)
	assert.Equal(t, spec, *p.Specialization)
	assert.Equal(t, models.RoleDoctor, p.Role)

	_, err = dir.UpdateProfile(ctx, &session.Session{UserID: pat.ID, Role: pat.Role}, ProfileUpdate{Specialization: &spec})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAdminOperations(t *testing.T) {
	ctx := context.Background()
	dir, db := newTestDirectory(t)
	admin, err := dir.Create(ctx, patientInput("root", "root@example.com"))
	require.NoError(t, err)
	doc, err := dir.Create(ctx, doctorInput("house", "house@example.com"))
	require.NoError(t, err)
	pat, err := dir.Create(ctx, patientInput("jane", "jane@example.com"))
	require.NoError(t, err)

	adminSession := &session.Session{UserID: admin.ID, Role: models.RoleAdmin}
	doctorSession := &session.Session{UserID: doc.ID, Role: models.RoleDoctor}

	t.Run("toggle active", func(t *testing.T) {
		u, err := dir.ToggleActive(ctx, adminSession, pat.ID)
		require.NoError(t, err)
		assert.False(t, u.IsActive)

		doctors, err := dir.ListActiveDoctors(ctx)
		require.NoError(t, err)
		assert.Len(t, doctors, 1)

		u, err = dir.ToggleActive(ctx, adminSession, pat.ID)
		require.NoError(t, err)
		assert.True(t, u.IsActive)
	})

	t.Run("admins are protected", func(t *testing.T) {
		_, err := dir.ToggleActive(ctx, adminSession, admin.ID)
		assert.ErrorIs(t, err, ErrProtectedUser)
		assert.ErrorIs(t, dir.Delete(ctx, adminSession, admin.ID), ErrProtectedUser)
	})

	t.Run("non admins cannot manage", func(t *testing.T) {
		_, err := dir.ToggleActive(ctx, doctorSession, pat.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("list by role", func(t *testing.T) {
		all, err := dir.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
		patients, err := dir.List(ctx, models.RolePatient)
		require.NoError(t, err)
		assert.Len(t, patients, 1)
	})

	t.Run("delete keeps clinical history", func(t *testing.T) {
		appt := &models.Appointment{PatientID: pat.ID, DoctorID: doc.ID, DateEnc: "x", TimeEnc: "x", ReasonEnc: "x", Status: models.StatusPending, MAC: "x"}
		require.NoError(t, db.Create(appt).Error)
		require.NoError(t, db.Create(&models.Diagnosis{PatientID: pat.ID, DoctorID: doc.ID, DiagnosisEnc: "x", MAC: "x"}).Error)
		require.NoError(t, db.Create(&models.Message{SenderID: doc.ID, ReceiverID: pat.ID, ContentEnc: "x", MAC: "x"}).Error)
		require.NoError(t, db.Create(&models.Challenge{TokenHash: "doc-token", UserID: doc.ID, Purpose: models.PurposeLogin, CodeHash: "x", ExpiresAt: time.Now(), TokenExpiresAt: time.Now()}).Error)

		require.NoError(t, dir.Delete(ctx, adminSession, doc.ID))

		_, err := dir.FindByID(ctx, doc.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		var n int64
		require.NoError(t, db.Model(&models.Appointment{}).Where("doctor_id = ?", doc.ID).Count(&n).Error)
		assert.EqualValues(t, 1, n)
		require.NoError(t, db.Model(&models.Diagnosis{}).Where("doctor_id = ?", doc.ID).Count(&n).Error)
		assert.EqualValues(t, 1, n)
		require.NoError(t, db.Model(&models.Message{}).Where("sender_id = ?", doc.ID).Count(&n).Error)
		assert.EqualValues(t, 1, n)
		require.NoError(t, db.Model(&models.Challenge{}).Where("user_id = ?", doc.ID).Count(&n).Error)
		assert.Zero(t, n)

		_, err = dir.FindByID(ctx, pat.ID)
		assert.NoError(t, err)
	})
}

func TestTwoFactorPasswordAndLastLogin(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)
	u, err := dir.Create(ctx, patientInput("jane", "jane@example.com"))
	require.NoError(t, err)

	require.NoError(t, dir.SetTwoFactor(ctx, u.ID, false))
	reloaded, err := dir.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.TwoFactorEnabled)
	assert.ErrorIs(t, dir.SetTwoFactor(ctx, "missing", true), ErrNotFound)

	require.NoError(t, dir.SetPassword(ctx, reloaded, "newpassword1"))
	reloaded, err = dir.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.CheckPassword("newpassword1"))
	assert.False(t, reloaded.CheckPassword("password123"))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, dir.TouchLastLogin(ctx, reloaded, at))
	reloaded, err = dir.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLogin)
	assert.True(t, at.Equal(*reloaded.LastLogin))
}
