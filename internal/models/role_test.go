package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Doctor ")
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, r)

	_, err = ParseRole("user")
	assert.Error(t, err)
}

func TestRoleCapabilities(t *testing.T) {
	tests := []struct {
		role         Role
		confidential bool
		diagnose     bool
		book         bool
		manage       bool
	}{
		{RoleAdmin, true, false, false, true},
		{RoleDoctor, true, true, false, false},
		{RolePatient, false, false, true, false},
		{Role("nurse"), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.confidential, tt.role.CanViewConfidential())
			assert.Equal(t, tt.diagnose, tt.role.CanWriteDiagnosis())
			assert.Equal(t, tt.book, tt.role.CanBookAppointment())
			assert.Equal(t, tt.manage, tt.role.CanManageUsers())
		})
	}
}

func TestRoleCanMessage(t *testing.T) {
	assert.True(t, RolePatient.CanMessage(RoleDoctor))
	assert.True(t, RoleDoctor.CanMessage(RolePatient))
	assert.True(t, RoleAdmin.CanMessage(RoleAdmin))
	assert.False(t, RolePatient.CanMessage(RolePatient))
	assert.False(t, RoleDoctor.CanMessage(RoleDoctor))
}

func TestAppointmentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusPending.Terminal())
}
