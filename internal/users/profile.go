package users

import (
	"strconv"
	"time"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/models"
)

// Profile is the decrypted view of an account that is safe to send in API
// responses.
type Profile struct {
	ID               string      `json:"id"`
	Username         *string     `json:"username"`
	Email            *string     `json:"email"`
	Name             *string     `json:"name"`
	Role             models.Role `json:"role"`
	ContactNo        *string     `json:"contact_no"`
	Specialization   *string     `json:"specialization,omitempty"`
	Age              *int        `json:"age,omitempty"`
	Sex              *string     `json:"sex,omitempty"`
	IsActive         bool        `json:"is_active"`
	TwoFactorEnabled bool        `json:"two_factor_enabled"`
	CreatedAt        time.Time   `json:"created_at"`
	LastLogin        *time.Time  `json:"last_login"`
}

// Summary is the short form embedded in other records.
type Summary struct {
	ID             string      `json:"id"`
	Name           *string     `json:"name"`
	Role           models.Role `json:"role"`
	Specialization *string     `json:"specialization,omitempty"`
}

// View decrypts u. Attributes that fail to open are left nil.
func (d *Directory) View(u *models.User) Profile {
	plain := d.openAll(u.ID, map[string]string{
		fieldcrypt.FieldUsername:       u.UsernameEnc,
		fieldcrypt.FieldEmail:          u.EmailEnc,
		fieldcrypt.FieldName:           u.NameEnc,
		fieldcrypt.FieldContactNo:      u.ContactNoEnc,
		fieldcrypt.FieldSpecialization: u.SpecializationEnc,
		fieldcrypt.FieldAge:            u.AgeEnc,
		fieldcrypt.FieldSex:            u.SexEnc,
	})
	p := Profile{
		ID:               u.ID,
		Username:         plain[fieldcrypt.FieldUsername],
		Email:            plain[fieldcrypt.FieldEmail],
		Name:             plain[fieldcrypt.FieldName],
		Role:             u.Role,
		ContactNo:        plain[fieldcrypt.FieldContactNo],
		Specialization:   plain[fieldcrypt.FieldSpecialization],
		Sex:              plain[fieldcrypt.FieldSex],
		IsActive:         u.IsActive,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
		LastLogin:        u.LastLogin,
	}
	if age := plain[fieldcrypt.FieldAge]; age != nil {
		if n, err := strconv.Atoi(*age); err == nil {
			p.Age = &n
		}
	}
	return p
}

// Views decrypts a list of accounts.
func (d *Directory) Views(list []models.User) []Profile {
	out := make([]Profile, len(list))
	for i := range list {
		out[i] = d.View(&list[i])
	}
	return out
}

// Summarize is View reduced to what other parties may see.
func (d *Directory) Summarize(u *models.User) Summary {
	s := Summary{
		ID:   u.ID,
		Name: d.open(u.ID, fieldcrypt.FieldName, u.NameEnc),
		Role: u.Role,
	}
	if u.Role == models.RoleDoctor {
		s.Specialization = d.open(u.ID, fieldcrypt.FieldSpecialization, u.SpecializationEnc)
	}
	return s
}

func (d *Directory) open(userID, field, stored string) *string {
	if stored == "" {
		return nil
	}
	plain, err := d.engine.DecryptField(field, stored)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Str("field", field).Msg("failed to decrypt profile field")
		return nil
	}
	return &plain
}

// openAll decrypts the non-empty entries of stored in one pass. Fields that
// fail are missing from the result.
func (d *Directory) openAll(userID string, stored map[string]string) map[string]*string {
	sealed := make(map[string]string, len(stored))
	for field, value := range stored {
		if value != "" {
			sealed[field] = value
		}
	}
	plain, err := d.engine.DecryptFields(sealed)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", userID).Msg("failed to decrypt profile fields")
	}
	out := make(map[string]*string, len(plain))
	for field, value := range plain {
		v := value
		out[field] = &v
	}
	return out
}
