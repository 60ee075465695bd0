// Package httperrors provides generic error responses for the HTTP
// endpoints (health, admin). Internal details never reach clients.
package httperrors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON error body for HTTP endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Generic client-facing messages.
const (
	MsgUnauthorized       = "Authentication required"
	MsgInvalidToken       = "Invalid or expired authentication token"
	MsgForbidden          = "Insufficient permissions"
	MsgBadRequest         = "Bad request"
	MsgResourceNotFound   = "Resource not found"
	MsgTooManyRequests    = "Too many requests"
	MsgInternalError      = "An internal error occurred"
	MsgServiceUnavailable = "Service temporarily unavailable"
)

// Error codes for client-side handling.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// RespondUnauthorized sends a 401 with a generic message.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = MsgUnauthorized
	}
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: message,
		Code:  CodeUnauthorized,
	})
}

// RespondInvalidToken sends a 401 for rejected credentials.
func RespondInvalidToken(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error: MsgInvalidToken,
		Code:  CodeInvalidToken,
	})
}

// RespondForbidden sends a 403 with a generic message.
func RespondForbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, ErrorResponse{
		Error: MsgForbidden,
		Code:  CodeForbidden,
	})
}

// RespondBadRequest sends a 400 with a generic message.
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = MsgBadRequest
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: message,
		Code:  CodeBadRequest,
	})
}

// RespondNotFound sends a 404.
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = MsgResourceNotFound
	}
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: message,
		Code:  CodeNotFound,
	})
}

// RespondTooManyRequests sends a 429 with a Retry-After hint in seconds.
func RespondTooManyRequests(c *gin.Context, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error: MsgTooManyRequests,
		Code:  CodeTooManyRequests,
	})
}

// RespondInternalError sends a 500 with a generic message.
func RespondInternalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: MsgInternalError,
		Code:  CodeInternalError,
	})
}

// RespondServiceUnavailable sends a 503.
func RespondServiceUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: MsgServiceUnavailable,
		Code:  CodeServiceUnavailable,
	})
}
