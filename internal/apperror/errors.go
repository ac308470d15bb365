// Package apperror provides the typed errors the mail path and the settings
// API surface to HTTP handlers. Each error carries an HTTP status code, a
// stable machine-readable code, and a message safe to show to the client.
//
// Never return raw SMTP, crypto or I/O errors to the client. Wrap them here
// or degrade to a generic internal error.
package apperror

import (
	"fmt"
	"net/http"
)

// Error codes exposed in API responses.
const (
	CodeAuthFailed       = "SMTP_AUTH_FAILED"
	CodeConnectionFailed = "SMTP_CONNECTION_FAILED"
	CodeRecipientRefused = "SMTP_RECIPIENT_REFUSED"
	CodeSenderRefused    = "SMTP_SENDER_REFUSED"
	CodeTokenFetchFailed = "TOKEN_FETCH_FAILED"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeDecryptFailed    = "DECRYPT_FAILED"
	CodeSMTPError        = "SMTP_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// AppError is the base error type for all domain errors.
type AppError struct {
	// Status is the HTTP status code (e.g. 401, 502).
	Status int `json:"-"`

	// Code is the machine-readable classifier (e.g. "SMTP_AUTH_FAILED").
	Code string `json:"code"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Details lists individual validation failures, when applicable.
	Details []string `json:"details,omitempty"`

	// Internal holds the underlying error for logging. Never exposed.
	Internal error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// --- Constructors for the send-path taxonomy ---

// NewAuthFailed reports bad credentials or a bad/expired token. message
// should already include a remediation hint.
func NewAuthFailed(message string, internal error) *AppError {
	return &AppError{
		Status:   http.StatusUnauthorized,
		Code:     CodeAuthFailed,
		Message:  message,
		Internal: internal,
	}
}

// NewConnectionFailed reports that the SMTP host could not be reached or the
// session could not be negotiated.
func NewConnectionFailed(internal error) *AppError {
	return &AppError{
		Status:   http.StatusBadGateway,
		Code:     CodeConnectionFailed,
		Message:  "Failed to connect to SMTP server. Check server address and port.",
		Internal: internal,
	}
}

// NewRecipientRefused reports that the server rejected a recipient address.
func NewRecipientRefused(internal error) *AppError {
	return &AppError{
		Status:   http.StatusBadRequest,
		Code:     CodeRecipientRefused,
		Message:  "Recipient email address was refused by the server.",
		Internal: internal,
	}
}

// NewSenderRefused reports that the server rejected the sender address.
func NewSenderRefused(internal error) *AppError {
	return &AppError{
		Status:   http.StatusBadRequest,
		Code:     CodeSenderRefused,
		Message:  "Sender email address was refused by the server.",
		Internal: internal,
	}
}

// NewTokenFetchFailed reports an OAuth2 token endpoint failure. message must
// be sanitized by the caller before it gets here.
func NewTokenFetchFailed(message string, internal error) *AppError {
	return &AppError{
		Status:   http.StatusUnauthorized,
		Code:     CodeTokenFetchFailed,
		Message:  message,
		Internal: internal,
	}
}

// NewInvalidConfig reports settings that fail validation, carrying the full
// list of violations.
func NewInvalidConfig(details []string) *AppError {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidConfig,
		Message: "SMTP settings are invalid.",
		Details: details,
	}
}

// NewSMTPError is the catch-all for protocol-level failures. The message is
// truncated so a chatty server cannot flood responses or logs.
func NewSMTPError(message string, internal error) *AppError {
	const maxLen = 100
	if len(message) > maxLen {
		message = message[:maxLen]
	}
	return &AppError{
		Status:   http.StatusBadGateway,
		Code:     CodeSMTPError,
		Message:  fmt.Sprintf("SMTP error: %s", message),
		Internal: internal,
	}
}

// NewInternal creates a 500. The real error is stored for logging but the
// client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Status:   http.StatusInternalServerError,
		Code:     CodeInternal,
		Message:  "An unexpected error occurred while sending email.",
		Internal: err,
	}
}

// SafeStatus returns the HTTP status code from an AppError, or 500 for any
// other error type.
func SafeStatus(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
