package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details. TimeoutMs is set when the message is
// meant to be shown to the user as a transient notice.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// NoticeTimeoutMs is how long a user-facing notice stays visible.
const NoticeTimeoutMs = 2000

// Success sends a successful response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Created sends a 201 created response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// Notice sends an error response the client displays as a snackbar.
func Notice(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			TimeoutMs: NoticeTimeoutMs,
		},
	})
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unauthorized sends a 401 notice.
func Unauthorized(c *gin.Context, message string) {
	Notice(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// UnsupportedMedia sends a 415 notice.
func UnsupportedMedia(c *gin.Context, message string) {
	Notice(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", message)
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// Forbidden sends a 403 error response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, "FORBIDDEN", message)
}
