package models

import (
	"fmt"
	"strings"
)

// Role enum
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	default:
		return false
	}
}

// CanViewConfidential reports whether the role may read confidential notes.
func (r Role) CanViewConfidential() bool {
	switch r {
	case RoleAdmin, RoleDoctor:
		return true
	case RolePatient:
		return false
	default:
		return false
	}
}

// CanWriteDiagnosis reports whether the role may author diagnoses.
func (r Role) CanWriteDiagnosis() bool {
	switch r {
	case RoleDoctor:
		return true
	case RoleAdmin, RolePatient:
		return false
	default:
		return false
	}
}

// CanBookAppointment reports whether the role may book appointments.
func (r Role) CanBookAppointment() bool {
	switch r {
	case RolePatient:
		return true
	case RoleAdmin, RoleDoctor:
		return false
	default:
		return false
	}
}

// CanManageUsers reports whether the role may activate or delete accounts.
func (r Role) CanManageUsers() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleDoctor, RolePatient:
		return false
	default:
		return false
	}
}

// CanMessage reports whether a user with role r may message one with role to.
// Patients and doctors talk to each other; admins talk to anyone.
func (r Role) CanMessage(to Role) bool {
	switch r {
	case RoleAdmin:
		return to.Valid()
	case RoleDoctor:
		return to == RolePatient || to == RoleAdmin
	case RolePatient:
		return to == RoleDoctor || to == RoleAdmin
	default:
		return false
	}
}
