// Package errors defines the error taxonomy reported to chat clients.
// Every failed event reply carries one of these codes; internal store
// failures are wrapped and returned opaque so no persistence detail leaks.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/lahorneada/supportchat/internal/event"
)

// Category groups error codes by origin.
type Category string

const (
	// CategoryAuth covers credential extraction and verification failures.
	CategoryAuth Category = "auth"
	// CategoryAuthz covers role and participant checks on authenticated principals.
	CategoryAuthz Category = "authorization"
	// CategoryValidation covers malformed or invalid event payloads.
	CategoryValidation Category = "validation"
	// CategoryDomain covers chat state rejections (missing chat, closed chat, no staff).
	CategoryDomain Category = "domain"
	// CategoryService covers store and other unexpected internal failures.
	CategoryService Category = "service"
	// CategoryRateLimit covers throttling of connections and messages.
	CategoryRateLimit Category = "rate_limit"
)

// Code is the machine-readable error identifier sent to clients.
type Code string

const (
	CodeMissingCredential Code = "MISSING_CREDENTIAL"
	CodeInvalidCredential Code = "INVALID_CREDENTIAL"
	CodeForbidden         Code = "FORBIDDEN"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeChatNotFound      Code = "CHAT_NOT_FOUND"
	CodeChatClosed        Code = "CHAT_CLOSED"
	CodeNoStaffAvailable  Code = "NO_STAFF_AVAILABLE"
	CodeInvalidFormat     Code = "INVALID_FORMAT"
	CodeUnknownEvent      Code = "UNKNOWN_EVENT"
	CodeTooManyRequests   Code = "TOO_MANY_REQUESTS"
	CodeConnectionLimit   Code = "CONNECTION_LIMIT_EXCEEDED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// ChatError is the application error carried from service code to the
// gateway. Recoverable errors leave the connection usable; fatal ones signal
// the transport that it may drop the connection.
type ChatError struct {
	Category    Category
	Code        Code
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, rate-limit errors only
	Cause       error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error should terminate the connection.
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts the error to its wire representation.
func (e *ChatError) ToErrorInfo() *event.ErrorInfo {
	return &event.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

// As extracts a *ChatError from an error chain.
func As(err error) (*ChatError, bool) {
	var ce *ChatError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// From returns err as a *ChatError, wrapping unknown errors as internal.
// This guarantees every failure reaching the gateway has a client-safe shape.
func From(err error) *ChatError {
	if ce, ok := As(err); ok {
		return ce
	}
	return ErrInternal(err)
}

// ErrMissingCredential reports a handshake with no cookie or bearer token.
func ErrMissingCredential() *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        CodeMissingCredential,
		Message:     "Authentication credential is missing",
		Recoverable: true,
	}
}

// ErrInvalidCredential reports a credential that failed verification.
func ErrInvalidCredential(cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        CodeInvalidCredential,
		Message:     "Authentication credential is invalid or expired",
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrForbidden reports an action the principal's role does not permit.
func ErrForbidden(message string) *ChatError {
	if message == "" {
		message = "Your role does not permit this action"
	}
	return &ChatError{
		Category:    CategoryAuthz,
		Code:        CodeForbidden,
		Message:     message,
		Recoverable: true,
	}
}

// ErrAccessDenied reports an authenticated principal that is not a
// participant of the target chat.
func ErrAccessDenied() *ChatError {
	return &ChatError{
		Category:    CategoryAuthz,
		Code:        CodeAccessDenied,
		Message:     "You do not have access to this chat",
		Recoverable: true,
	}
}

// ErrChatNotFound reports a missing chat.
func ErrChatNotFound(chatID uint) *ChatError {
	return &ChatError{
		Category:    CategoryDomain,
		Code:        CodeChatNotFound,
		Message:     fmt.Sprintf("Chat %d not found", chatID),
		Recoverable: true,
	}
}

// ErrChatClosed reports a write to a closed chat. Closed chats stay readable.
func ErrChatClosed(chatID uint) *ChatError {
	return &ChatError{
		Category:    CategoryDomain,
		Code:        CodeChatClosed,
		Message:     fmt.Sprintf("Chat %d is closed and no longer accepts messages", chatID),
		Recoverable: true,
	}
}

// ErrNoStaffAvailable reports that no staff member could be assigned.
func ErrNoStaffAvailable() *ChatError {
	return &ChatError{
		Category:    CategoryDomain,
		Code:        CodeNoStaffAvailable,
		Message:     "No staff member is available to take the chat",
		Recoverable: true,
	}
}

// ErrInvalidPayload reports a malformed or invalid event payload.
func ErrInvalidPayload(details string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        CodeInvalidFormat,
		Message:     fmt.Sprintf("Invalid payload: %s", details),
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrUnknownEvent reports an event name the gateway does not dispatch.
func ErrUnknownEvent(name string) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        CodeUnknownEvent,
		Message:     fmt.Sprintf("Unknown event %q", name),
		Recoverable: true,
	}
}

// ErrTooManyRequests reports message-rate throttling.
func ErrTooManyRequests(retryAfter int) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        CodeTooManyRequests,
		Message:     "Too many requests, please slow down",
		Recoverable: true,
		RetryAfter:  retryAfter,
	}
}

// ErrConnectionLimitExceeded reports the per-principal connection cap.
func ErrConnectionLimitExceeded(retryAfter int) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        CodeConnectionLimit,
		Message:     "Connection limit exceeded, please try again later",
		Recoverable: true,
		RetryAfter:  retryAfter,
	}
}

// ErrInternal wraps an unexpected failure. The cause is logged server-side
// and never exposed to the client.
func ErrInternal(cause error) *ChatError {
	return &ChatError{
		Category:    CategoryService,
		Code:        CodeInternal,
		Message:     "An internal error occurred",
		Recoverable: true,
		Cause:       cause,
	}
}
