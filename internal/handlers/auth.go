package handlers

import (
	"github.com/gin-gonic/gin"

	"sphere-health-server/internal/auth"
	"sphere-health-server/internal/users"
	"sphere-health-server/internal/utils"
)

// AuthHandler handles sign-up, sign-in and password recovery.
type AuthHandler struct {
	Auth  *auth.Service
	Users *users.Directory
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *auth.Service, dir *users.Directory) *AuthHandler {
	return &AuthHandler{Auth: svc, Users: dir}
}

// RegisterRequest is the part of the sign-up form shared by every role.
type RegisterRequest struct {
	Username        string `json:"username" binding:"required,min=3,max=50"`
	Email           string `json:"email" binding:"required,email"`
	Name            string `json:"name" binding:"required,max=100"`
	ContactNo       string `json:"contact_no" binding:"omitempty,max=20"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// DoctorRegisterRequest is the doctor sign-up form.
type DoctorRegisterRequest struct {
	RegisterRequest
	Specialization string `json:"specialization" binding:"required,max=100"`
}

// PatientRegisterRequest is the patient sign-up form.
type PatientRegisterRequest struct {
	RegisterRequest
	Age *int   `json:"age" binding:"omitempty,min=0,max=150"`
	Sex string `json:"sex" binding:"omitempty,oneof=M F O"`
}

func (r RegisterRequest) registration() auth.Registration {
	return auth.Registration{
		Username:        r.Username,
		Email:           r.Email,
		Name:            r.Name,
		ContactNo:       r.ContactNo,
		Password:        r.Password,
		ConfirmPassword: r.ConfirmPassword,
	}
}

// RegisterDoctor handles doctor sign-up.
func (h *AuthHandler) RegisterDoctor(c *gin.Context) {
	var req DoctorRegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	in := req.registration()
	in.Specialization = req.Specialization

	user, err := h.Auth.RegisterDoctor(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "register doctor")
		return
	}
	utils.Created(c, "Doctor registered successfully", h.Users.View(user))
}

// RegisterPatient handles patient sign-up.
func (h *AuthHandler) RegisterPatient(c *gin.Context) {
	var req PatientRegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	in := req.registration()
	in.Age = req.Age
	in.Sex = req.Sex

	user, err := h.Auth.RegisterPatient(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "register patient")
		return
	}
	utils.Created(c, "Patient registered successfully", h.Users.View(user))
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles the first sign-in step.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	res, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err, "log in")
		return
	}
	if res.RequiresTwoFactor {
		utils.Success(c, "Verification code sent to your email", res)
		return
	}
	utils.Success(c, "Login successful", res)
}

// VerifyCodeRequest carries a temporary token and the emailed code.
type VerifyCodeRequest struct {
	TempToken string `json:"temp_token" binding:"required"`
	Code      string `json:"code" binding:"required,len=6,numeric"`
}

// VerifyTwoFactor completes a login that required a code.
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req VerifyCodeRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	res, err := h.Auth.VerifyTwoFactor(c.Request.Context(), req.TempToken, req.Code)
	if err != nil {
		respondError(c, err, "verify code")
		return
	}
	utils.Success(c, "Login successful", res)
}

// ResendRequest names the temporary token whose code should be resent.
type ResendRequest struct {
	TempToken string `json:"temp_token" binding:"required"`
}

// ResendCode emails a fresh code for a pending login or reset.
func (h *AuthHandler) ResendCode(c *gin.Context) {
	var req ResendRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	if err := h.Auth.ResendCode(c.Request.Context(), req.TempToken); err != nil {
		respondError(c, err, "resend code")
		return
	}
	utils.Success(c, "A new verification code has been sent", nil)
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestPasswordReset answers the same way whether or not the address
// belongs to an account.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req ForgotPasswordRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	token, err := h.Auth.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err, "start password reset")
		return
	}
	utils.Success(c, "If the email is registered, a reset code has been sent", gin.H{"temp_token": token})
}

// ResetPasswordRequest finishes a password reset.
type ResetPasswordRequest struct {
	TempToken       string `json:"temp_token" binding:"required"`
	Code            string `json:"code" binding:"required,len=6,numeric"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ResetPassword sets a new password with a reset code.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	err := h.Auth.ResetPassword(c.Request.Context(), req.TempToken, req.Code, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		respondError(c, err, "reset password")
		return
	}
	utils.Success(c, "Password reset successfully", nil)
}
