package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents an account. Every personal attribute is stored sealed;
// the *Index columns hold keyed hashes used for lookups.
type User struct {
	BaseModel
	UsernameEnc       string     `gorm:"type:text;not null" json:"-"`
	EmailEnc          string     `gorm:"type:text;not null" json:"-"`
	NameEnc           string     `gorm:"type:text" json:"-"`
	ContactNoEnc      string     `gorm:"type:text" json:"-"`
	SpecializationEnc string     `gorm:"type:text" json:"-"`
	AgeEnc            string     `gorm:"type:text" json:"-"`
	SexEnc            string     `gorm:"type:text" json:"-"`
	UsernameIndex     string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	EmailIndex        string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	PasswordHash      string     `gorm:"size:255;not null" json:"-"` // Never send password in JSON
	Role              Role       `gorm:"size:20;index;not null" json:"role"`
	IsActive          bool       `gorm:"not null" json:"isActive"`
	TwoFactorEnabled  bool       `gorm:"not null" json:"twoFactorEnabled"`
	LastLogin         *time.Time `json:"lastLogin,omitempty"`
}

// SetPassword hashes a password and sets it on the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword compares a password with the user's hashed password
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}
