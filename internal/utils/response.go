package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseData is the envelope every endpoint answers with.
type ResponseData struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func write(c *gin.Context, status int, message string, data interface{}, errMsg string) {
	c.JSON(status, ResponseData{
		Status:  status,
		Message: message,
		Data:    data,
		Error:   errMsg,
	})
}

// Success sends a 200 with data.
func Success(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusOK, message, data, "")
}

// Created sends a 201 with the new resource.
func Created(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusCreated, message, data, "")
}

// Error sends an error envelope. The message is the status text so clients
// can branch on it without parsing errorMessage.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	write(c, statusCode, http.StatusText(statusCode), nil, errorMessage)
}

// BadRequest sends a 400.
func BadRequest(c *gin.Context, errorMessage string) {
	Error(c, http.StatusBadRequest, errorMessage)
}

// Unauthorized sends a 401.
func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

// Forbidden sends a 403.
func Forbidden(c *gin.Context, errorMessage string) {
	Error(c, http.StatusForbidden, errorMessage)
}

// NotFound sends a 404.
func NotFound(c *gin.Context, errorMessage string) {
	Error(c, http.StatusNotFound, errorMessage)
}

// InternalServerError sends a 500. Callers pass a fixed "Failed to ..."
// message, never the underlying error.
func InternalServerError(c *gin.Context, errorMessage string) {
	Error(c, http.StatusInternalServerError, errorMessage)
}
