package models

import "time"

// BootstrapFirstAdmin names the claim taken by the account that becomes the
// first administrator.
const BootstrapFirstAdmin = "first_admin"

// Bootstrap records one-off claims made while a fresh installation is set up.
// The primary key makes each claim winnable by a single transaction.
type Bootstrap struct {
	Name      string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:36;not null"`
	CreatedAt time.Time
}
