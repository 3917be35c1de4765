package models

import (
	"time"
)

// MessageStatus represents the status of a message
type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusRead MessageStatus = "read"
)

// Message represents a sealed message between two users
type Message struct {
	BaseModel
	SenderID   string        `gorm:"size:36;index;not null"`
	ReceiverID string        `gorm:"size:36;index;not null"`
	ParentID   string        `gorm:"size:36;index"`
	SubjectEnc string        `gorm:"type:text"`
	ContentEnc string        `gorm:"type:text;not null"`
	Status     MessageStatus `gorm:"size:20;default:'sent';not null"`
	ReadAt     *time.Time
	MAC        string `gorm:"size:64;not null"`
}
