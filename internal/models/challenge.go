package models

import (
	"time"
)

// ChallengePurpose says what a verified challenge unlocks.
type ChallengePurpose string

const (
	PurposeLogin         ChallengePurpose = "login"
	PurposePasswordReset ChallengePurpose = "password_reset"
)

// Challenge binds a one-time code to a temporary token. Neither the token nor
// the code is stored in the clear. ExpiresAt moves with every resend;
// TokenExpiresAt is fixed when the challenge is issued.
type Challenge struct {
	TokenHash      string           `gorm:"primaryKey;size:64"`
	UserID         string           `gorm:"size:36;index"` // empty for decoys
	Purpose        ChallengePurpose `gorm:"size:20;not null"`
	CodeHash       string           `gorm:"size:64;not null"`
	ExpiresAt      time.Time        `gorm:"not null"`
	TokenExpiresAt time.Time        `gorm:"index;not null"`
	Attempts       int              `gorm:"not null;default:0"`
	CreatedAt      time.Time
}
