package handlers

import (
	"github.com/gin-gonic/gin"

	"sphere-health-server/internal/auth"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/users"
	"sphere-health-server/internal/utils"
)

// UserHandler handles the caller's own account and admin user management.
type UserHandler struct {
	Users *users.Directory
	Auth  *auth.Service
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(dir *users.Directory, svc *auth.Service) *UserHandler {
	return &UserHandler{Users: dir, Auth: svc}
}

// GetProfile returns the caller's decrypted profile.
func (h *UserHandler) GetProfile(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	user, err := h.Users.FindByID(c.Request.Context(), sess.UserID)
	if err != nil {
		respondError(c, err, "fetch profile")
		return
	}
	utils.Success(c, "Profile fetched successfully", h.Users.View(user))
}

// UpdateProfileRequest lists the profile attributes a user may change. The
// role and email are not among them.
type UpdateProfileRequest struct {
	Name           *string `json:"name" binding:"omitempty,min=1,max=100"`
	ContactNo      *string `json:"contact_no" binding:"omitempty,max=20"`
	Specialization *string `json:"specialization" binding:"omitempty,min=1,max=100"`
}

// UpdateProfile changes the caller's profile.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.Users.UpdateProfile(c.Request.Context(), sess, users.ProfileUpdate{
		Name:           req.Name,
		ContactNo:      req.ContactNo,
		Specialization: req.Specialization,
	})
	if err != nil {
		respondError(c, err, "update profile")
		return
	}
	utils.Success(c, "Profile updated successfully", h.Users.View(user))
}

// TwoFactorRequest switches the email second factor.
type TwoFactorRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetTwoFactor turns the caller's second factor on or off.
func (h *UserHandler) SetTwoFactor(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req TwoFactorRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	if err := h.Auth.SetTwoFactor(c.Request.Context(), sess, *req.Enabled); err != nil {
		respondError(c, err, "update two-factor setting")
		return
	}
	msg := "Two-factor authentication disabled"
	if *req.Enabled {
		msg = "Two-factor authentication enabled"
	}
	utils.Success(c, msg, gin.H{"two_factor_enabled": *req.Enabled})
}

// ChangePasswordRequest replaces the caller's password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ChangePassword handles a signed-in password change.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	err := h.Auth.ChangePassword(c.Request.Context(), sess, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		respondError(c, err, "change password")
		return
	}
	utils.Success(c, "Password changed successfully", nil)
}

// GetDoctors lists the active doctors patients can book with.
func (h *UserHandler) GetDoctors(c *gin.Context) {
	doctors, err := h.Users.ListActiveDoctors(c.Request.Context())
	if err != nil {
		respondError(c, err, "fetch doctors")
		return
	}
	out := make([]users.Summary, len(doctors))
	for i := range doctors {
		out[i] = h.Users.Summarize(&doctors[i])
	}
	utils.Success(c, "Doctors fetched successfully", out)
}

// UsersQuery filters the admin user list.
type UsersQuery struct {
	Role string `form:"role" binding:"omitempty,oneof=admin doctor patient"`
}

// GetUsers lists every account, optionally of one role. Admin only.
func (h *UserHandler) GetUsers(c *gin.Context) {
	var q UsersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequest(c, "Validation failed: "+utils.FormatValidationError(err))
		return
	}

	list, err := h.Users.List(c.Request.Context(), models.Role(q.Role))
	if err != nil {
		respondError(c, err, "fetch users")
		return
	}
	utils.Success(c, "Users fetched successfully", h.Users.Views(list))
}

// ToggleUserActive enables or disables a non-admin account. Admin only.
func (h *UserHandler) ToggleUserActive(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "user")
	if !ok {
		return
	}

	user, err := h.Users.ToggleActive(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err, "update user status")
		return
	}
	msg := "User deactivated successfully"
	if user.IsActive {
		msg = "User activated successfully"
	}
	utils.Success(c, msg, h.Users.View(user))
}

// DeleteUser removes a non-admin account and everything it owns. Admin only.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "user")
	if !ok {
		return
	}

	if err := h.Users.Delete(c.Request.Context(), sess, id); err != nil {
		respondError(c, err, "delete user")
		return
	}
	utils.Success(c, "User deleted successfully", nil)
}
