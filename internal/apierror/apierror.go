// Package apierror defines the typed error sum used across service layers.
// Services fail with a stable Code; only the HTTP edge maps Code to status.
package apierror

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for status-code mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindAuthz      Kind = "authorization"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindRateLimit  Kind = "rate_limit"
	KindInternal   Kind = "internal"
)

// Fixed error code enumeration (spec.md §6).
const (
	CodeAgentNotFound        = "AGENT_NOT_FOUND"
	CodeHandleTaken          = "HANDLE_TAKEN"
	CodeInvalidPublicKey     = "INVALID_PUBLIC_KEY"
	CodeChallengeNotFound    = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired     = "CHALLENGE_EXPIRED"
	CodeChallengeAlreadyUsed = "CHALLENGE_ALREADY_USED"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeNoActiveKeys         = "NO_ACTIVE_KEYS"
	CodeAgentSuspended       = "AGENT_SUSPENDED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeRateLimited          = "RATE_LIMITED"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeKeyNotFound          = "KEY_NOT_FOUND"
	CodeKeyAlreadyRevoked    = "KEY_ALREADY_REVOKED"
	CodeAppNotFound          = "APP_NOT_FOUND"
	CodeAppSuspended         = "APP_SUSPENDED"
	CodeRedisUnavailable     = "REDIS_UNAVAILABLE"
)

// Error is the single typed-error variant carried by every service layer.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches an underlying cause to an existing Error.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Details: e.Details, cause: cause}
}

func new_(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation constructs a validation-kind error (HTTP 400).
func Validation(code, message string) *Error { return new_(KindValidation, code, message) }

// Auth constructs an auth-kind error (HTTP 401).
func Auth(code, message string) *Error { return new_(KindAuth, code, message) }

// Forbidden constructs an authorization-kind error (HTTP 403).
func Forbidden(code, message string) *Error { return new_(KindAuthz, code, message) }

// NotFound constructs a not-found-kind error (HTTP 404).
func NotFound(code, message string) *Error { return new_(KindNotFound, code, message) }

// Conflict constructs a conflict-kind error (HTTP 400 with a distinct code).
func Conflict(code, message string) *Error { return new_(KindConflict, code, message) }

// RateLimited constructs a rate-limit-kind error (HTTP 429).
func RateLimited(code, message string) *Error { return new_(KindRateLimit, code, message) }

// Internal constructs an internal-kind error (HTTP 500).
func Internal(code, message string) *Error { return new_(KindInternal, code, message) }

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
