package models

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

// Appointment represents a scheduled medical appointment
type Appointment struct {
	BaseModel
	PatientID string            `gorm:"size:36;index;not null"`
	DoctorID  string            `gorm:"size:36;index;not null"`
	DateEnc   string            `gorm:"type:text;not null"`
	TimeEnc   string            `gorm:"type:text;not null"`
	ReasonEnc string            `gorm:"type:text;not null"`
	NotesEnc  string            `gorm:"type:text"`
	Status    AppointmentStatus `gorm:"size:20;default:'pending';not null"`
	MAC       string            `gorm:"size:64;not null"`
}
