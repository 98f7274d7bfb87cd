package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode identifies an application error class. The codes double as the
// machine-readable "error" field in HTTP responses and websocket error events.
type ErrorCode string

const (
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeNotStarted        ErrorCode = "NOT_STARTED"
	ErrCodeEnded             ErrorCode = "ENDED"
	ErrCodeForbidden         ErrorCode = "FORBIDDEN"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeMediaAccessDenied ErrorCode = "MEDIA_ACCESS_DENIED"
	ErrCodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError carries an error code, a human-readable message and the HTTP status
// it maps to when surfaced over the REST API.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewNotStartedError() *AppError {
	return New(ErrCodeNotStarted, "meeting has not started yet", http.StatusConflict)
}

func NewEndedError() *AppError {
	return New(ErrCodeEnded, "meeting has ended", http.StatusGone)
}

func NewForbiddenError(message string) *AppError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func NewUnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewMediaAccessDeniedError(message string) *AppError {
	return New(ErrCodeMediaAccessDenied, message, http.StatusForbidden)
}

func NewNegotiationFailedError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeNegotiationFailed, message, http.StatusInternalServerError)
}

func NewInternalError(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts an AppError from anywhere in the error chain, or nil.
func GetAppError(err error) *AppError {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// IsAppError reports whether the error chain contains an AppError.
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}
