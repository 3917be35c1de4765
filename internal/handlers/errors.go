package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sphere-health-server/internal/auth"
	"sphere-health-server/internal/middleware"
	"sphere-health-server/internal/otp"
	"sphere-health-server/internal/records"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/users"
	"sphere-health-server/internal/utils"
)

// respondError maps a service error onto the response envelope. Anything it
// does not recognise is logged and reported as "Failed to <action>".
func respondError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		utils.Unauthorized(c, "Invalid email or password")
	case errors.Is(err, otp.ErrCodeExpired):
		utils.Unauthorized(c, "Verification code expired. Request a new code and try again.")
	case errors.Is(err, otp.ErrCodeMismatch):
		utils.Unauthorized(c, "Invalid verification code. Please try again.")
	case errors.Is(err, otp.ErrTokenInvalid):
		utils.Unauthorized(c, "Verification session is no longer valid. Please start again.")
	case errors.Is(err, auth.ErrUnauthenticated):
		utils.Unauthorized(c, "Invalid or expired token")

	case errors.Is(err, auth.ErrPasswordPolicy),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, users.ErrUsernameTaken),
		errors.Is(err, records.ErrInvalidInput),
		errors.Is(err, records.ErrInvalidTransition),
		errors.Is(err, records.ErrAppointmentMismatch):
		utils.BadRequest(c, err.Error())

	case errors.Is(err, records.ErrForbidden),
		errors.Is(err, users.ErrForbidden),
		errors.Is(err, users.ErrProtectedUser):
		utils.Forbidden(c, err.Error())

	case errors.Is(err, records.ErrNotFound),
		errors.Is(err, records.ErrDoctorNotFound),
		errors.Is(err, records.ErrPatientNotFound),
		errors.Is(err, records.ErrRecipientNotFound),
		errors.Is(err, users.ErrNotFound):
		utils.NotFound(c, err.Error())

	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("action", action).Msg("request failed")
		utils.InternalServerError(c, "Failed to "+action)
	}
}

// currentSession returns the caller's session, answering 401 when the route
// was wired without AuthMiddleware.
func currentSession(c *gin.Context) (*session.Session, bool) {
	sess, ok := middleware.GetSessionFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
	}
	return sess, ok
}

// pathID reads a uuid path parameter, answering 400 when it is malformed.
func pathID(c *gin.Context, param, label string) (string, bool) {
	id := c.Param(param)
	if _, err := uuid.Parse(id); err != nil {
		utils.BadRequest(c, "Invalid "+label+" ID format")
		return "", false
	}
	return id, true
}
