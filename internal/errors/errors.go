// Package errors provides coded domain errors for the HeyBooks sync layer.
//
// Every failure that reaches the user-facing notifier carries a Code, which is
// how the notifier picks a localized message and how the emulator API picks an
// HTTP status.
//
// Usage:
//
//	if !gate.IsOnline(ctx) {
//	    return errors.Offline("device not connected")
//	}
//
//	if errors.Is(err, errors.ErrTimedOut) {
//	    // the auth provider did not answer within the bound
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeOffline            Code = "OFFLINE"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeEmailNotVerified   Code = "EMAIL_NOT_VERIFIED"
	CodeTimedOut           Code = "TIMED_OUT"
	CodeListenFailed       Code = "LISTEN_FAILED"
	CodeWriteFailed        Code = "WRITE_FAILED"
	CodeUploadFailed       Code = "UPLOAD_FAILED"
	CodeDeleteFailed       Code = "DELETE_FAILED"
	CodeValidation         Code = "VALIDATION"
	CodeNotFound           Code = "NOT_FOUND"
	CodeForbidden          Code = "FORBIDDEN"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInternal           Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnauthenticated, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden, CodeEmailNotVerified:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTimedOut:
		return http.StatusGatewayTimeout
	case CodeOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrOffline            = &Error{Code: CodeOffline, Message: "device not connected"}
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "no authenticated identity"}
	ErrEmailNotVerified   = &Error{Code: CodeEmailNotVerified, Message: "email address not verified"}
	ErrTimedOut           = &Error{Code: CodeTimedOut, Message: "operation timed out"}
	ErrListenFailed       = &Error{Code: CodeListenFailed, Message: "listen failed"}
	ErrWriteFailed        = &Error{Code: CodeWriteFailed, Message: "write failed"}
	ErrUploadFailed       = &Error{Code: CodeUploadFailed, Message: "upload failed"}
	ErrDeleteFailed       = &Error{Code: CodeDeleteFailed, Message: "delete failed"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

// CodeOf returns the code carried by err, or CodeInternal when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Offline creates an offline error.
func Offline(msg string) *Error {
	return &Error{Code: CodeOffline, Message: msg}
}

// Unauthenticated creates an unauthenticated error.
func Unauthenticated(msg string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: msg}
}

// EmailNotVerified creates an unverified-email error.
func EmailNotVerified(msg string) *Error {
	return &Error{Code: CodeEmailNotVerified, Message: msg}
}

// TimedOut creates a timeout error.
func TimedOut(msg string) *Error {
	return &Error{Code: CodeTimedOut, Message: msg}
}

// TimedOutf creates a timeout error with formatted message.
func TimedOutf(format string, args ...any) *Error {
	return &Error{Code: CodeTimedOut, Message: fmt.Sprintf(format, args...)}
}

// ListenFailed wraps a subscription failure.
func ListenFailed(err error, msg string) *Error {
	return &Error{Code: CodeListenFailed, Message: msg, cause: err}
}

// WriteFailed wraps a patch or set failure.
func WriteFailed(err error, msg string) *Error {
	return &Error{Code: CodeWriteFailed, Message: msg, cause: err}
}

// UploadFailed wraps an asset upload failure.
func UploadFailed(err error, msg string) *Error {
	return &Error{Code: CodeUploadFailed, Message: msg, cause: err}
}

// DeleteFailed wraps an asset delete failure.
func DeleteFailed(err error, msg string) *Error {
	return &Error{Code: CodeDeleteFailed, Message: msg, cause: err}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// Forbiddenf creates a forbidden error with formatted message.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// InvalidCredentials creates an invalid credentials error.
func InvalidCredentials(msg string) *Error {
	return &Error{Code: CodeInvalidCredentials, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
