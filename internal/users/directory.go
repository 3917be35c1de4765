// Package users stores accounts with every personal attribute sealed.
package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/integrity"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/session"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
	ErrProtectedUser = errors.New("admin accounts cannot be modified")
	ErrForbidden     = errors.New("not allowed")
)

// NewUser is the input to Create.
type NewUser struct {
	Username       string
	Email          string
	Name           string
	ContactNo      string
	Password       string
	Role           models.Role
	Specialization string
	Age            *int
	Sex            string
}

// ProfileUpdate lists the attributes a user may change on their own account.
type ProfileUpdate struct {
	Name           *string
	ContactNo      *string
	Specialization *string
}

// Directory is the account store.
type Directory struct {
	db     *gorm.DB
	engine *fieldcrypt.Engine
	index  *integrity.Indexer
	log    zerolog.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(db *gorm.DB, engine *fieldcrypt.Engine, index *integrity.Indexer, log zerolog.Logger) *Directory {
	return &Directory{
		db:     db,
		engine: engine,
		index:  index,
		log:    log.With().Str("component", "users").Logger(),
	}
}

// Create stores a new account. The very first account becomes an admin
// whatever role was asked for. Second factor is on by default.
func (d *Directory) Create(ctx context.Context, in NewUser) (*models.User, error) {
	sealed, err := d.engine.EncryptFields(map[string]string{
		fieldcrypt.FieldUsername:       in.Username,
		fieldcrypt.FieldEmail:          in.Email,
		fieldcrypt.FieldName:           in.Name,
		fieldcrypt.FieldContactNo:      in.ContactNo,
		fieldcrypt.FieldSpecialization: in.Specialization,
		fieldcrypt.FieldAge:            formatAge(in.Age),
		fieldcrypt.FieldSex:            in.Sex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal profile: %w", err)
	}

	user := &models.User{
		UsernameEnc:       sealed[fieldcrypt.FieldUsername],
		EmailEnc:          sealed[fieldcrypt.FieldEmail],
		NameEnc:           sealed[fieldcrypt.FieldName],
		ContactNoEnc:      sealed[fieldcrypt.FieldContactNo],
		SpecializationEnc: sealed[fieldcrypt.FieldSpecialization],
		AgeEnc:            sealed[fieldcrypt.FieldAge],
		SexEnc:            sealed[fieldcrypt.FieldSex],
		UsernameIndex:     d.index.Index(in.Username),
		EmailIndex:        d.index.Index(in.Email),
		Role:              in.Role,
		IsActive:          true,
		TwoFactorEnabled:  true,
	}
	if err := user.SetPassword(in.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user.Stamp()
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			first, err := claimFirstAdmin(tx, user.ID)
			if err != nil {
				return err
			}
			if first {
				user.Role = models.RoleAdmin
			}
		}
		return tx.Create(user).Error
	})
	if err != nil {
		if taken := d.taken(ctx, user); taken != nil {
			return nil, taken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	d.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("user registered")
	return user, nil
}

// claimFirstAdmin takes the first-admin claim inside a savepoint. Concurrent
// first sign-ups race on the claim's primary key and only one wins.
func claimFirstAdmin(tx *gorm.DB, userID string) (bool, error) {
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&models.Bootstrap{Name: models.BootstrapFirstAdmin, UserID: userID}).Error
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return false, err
}

// taken reports which unique attribute of u already belongs to another
// account. The unique indexes are the source of truth, so this runs after a
// failed insert rather than before it.
func (d *Directory) taken(ctx context.Context, u *models.User) error {
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.User{}).Where("email_index = ?", u.EmailIndex).Count(&count).Error; err == nil && count > 0 {
		return ErrEmailTaken
	}
	if err := d.db.WithContext(ctx).Model(&models.User{}).Where("username_index = ?", u.UsernameIndex).Count(&count).Error; err == nil && count > 0 {
		return ErrUsernameTaken
	}
	return nil
}

// FindByEmail looks an account up through its blind index.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.findOne(ctx, "email_index = ?", d.index.Index(email))
}

// FindByID loads an account.
func (d *Directory) FindByID(ctx context.Context, id string) (*models.User, error) {
	return d.findOne(ctx, "id = ?", id)
}

// FindActive loads an account and requires it to be active with the given role.
func (d *Directory) FindActive(ctx context.Context, id string, role models.Role) (*models.User, error) {
	u, err := d.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive || u.Role != role {
		return nil, ErrNotFound
	}
	return u, nil
}

// FindMany loads the accounts in ids keyed by id. Unknown ids are skipped.
func (d *Directory) FindMany(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []models.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

func (d *Directory) findOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	if err := d.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// EmailFor returns the decrypted address of userID.
func (d *Directory) EmailFor(ctx context.Context, userID string) (string, error) {
	u, err := d.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return d.engine.DecryptField(fieldcrypt.FieldEmail, u.EmailEnc)
}

// UpdateProfile changes the caller's own name, contact number and, for
// doctors, specialization. Role and identifiers never change here.
func (d *Directory) UpdateProfile(ctx context.Context, s *session.Session, in ProfileUpdate) (*models.User, error) {
	u, err := d.FindByID(ctx, s.UserID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		enc, err := d.engine.EncryptField(fieldcrypt.FieldName, *in.Name)
		if err != nil {
			return nil, err
		}
		updates["name_enc"] = enc
	}
	if in.ContactNo != nil {
		enc, err := d.engine.EncryptField(fieldcrypt.FieldContactNo, *in.ContactNo)
		if err != nil {
			return nil, err
		}
		updates["contact_no_enc"] = enc
	}
	if in.Specialization != nil {
		if u.Role != models.RoleDoctor {
			return nil, ErrForbidden
		}
		enc, err := d.engine.EncryptField(fieldcrypt.FieldSpecialization, *in.Specialization)
		if err != nil {
			return nil, err
		}
		updates["specialization_enc"] = enc
	}
	if len(updates) == 0 {
		return u, nil
	}

	if err := d.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return d.FindByID(ctx, u.ID)
}

// List returns every account, or only those with role when it is set.
func (d *Directory) List(ctx context.Context, role models.Role) ([]models.User, error) {
	q := d.db.WithContext(ctx).Order("created_at asc")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var out []models.User
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return out, nil
}

// ListActiveDoctors is the booking directory shown to patients.
func (d *Directory) ListActiveDoctors(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := d.db.WithContext(ctx).
		Where("role = ? AND is_active = ?", models.RoleDoctor, true).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return out, nil
}

// ToggleActive flips the active flag of a non-admin account.
func (d *Directory) ToggleActive(ctx context.Context, actor *session.Session, id string) (*models.User, error) {
	u, err := d.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	active := !u.IsActive
	if err := d.db.WithContext(ctx).Model(u).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("failed to update user status: %w", err)
	}
	u.IsActive = active
	d.log.Info().Str("actor_id", actor.UserID).Str("user_id", u.ID).Bool("active", u.IsActive).Msg("user status changed")
	return u, nil
}

// Delete removes a non-admin account and its pending challenges. Appointments,
// diagnoses and messages stay: they belong to the other party's history too,
// and their views show a missing account as a null name.
func (d *Directory) Delete(ctx context.Context, actor *session.Session, id string) error {
	u, err := d.manageable(ctx, actor, id)
	if err != nil {
		return err
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", u.ID).Delete(&models.Challenge{}).Error; err != nil {
			return err
		}
		return tx.Delete(u).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	d.log.Info().Str("actor_id", actor.UserID).Str("user_id", u.ID).Msg("user deleted")
	return nil
}

func (d *Directory) manageable(ctx context.Context, actor *session.Session, id string) (*models.User, error) {
	if actor == nil || !actor.Role.CanManageUsers() {
		return nil, ErrForbidden
	}
	u, err := d.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == models.RoleAdmin {
		return nil, ErrProtectedUser
	}
	return u, nil
}

// TouchLastLogin records a completed sign-in.
func (d *Directory) TouchLastLogin(ctx context.Context, u *models.User, at time.Time) error {
	if err := d.db.WithContext(ctx).Model(u).Update("last_login", at).Error; err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	u.LastLogin = &at
	return nil
}

// SetTwoFactor turns the email second factor on or off.
func (d *Directory) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("two_factor_enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("failed to update two-factor setting: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPassword replaces the password hash.
func (d *Directory) SetPassword(ctx context.Context, u *models.User, password string) error {
	if err := u.SetPassword(password); err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := d.db.WithContext(ctx).Model(u).Update("password_hash", u.PasswordHash).Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func formatAge(age *int) string {
	if age == nil {
		return ""
	}
	return strconv.Itoa(*age)
}
