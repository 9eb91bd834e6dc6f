package errors

import (
	"fmt"
	"net/http"
)

// ServiceError is the error type surfaced by the bridge core. It carries an
// HTTP-like status code and a short machine-readable code so it can be
// serialized into an integration API error response without further mapping.
type ServiceError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`

	underlying error
}

func (e *ServiceError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.underlying
}

// Is matches ServiceErrors by code so sentinel comparisons work across
// instances created with different messages.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// BadRequest reports malformed input: a bad enum value, a missing field or an
// out-of-range attribute.
func BadRequest(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound reports a missing resource, e.g. an unknown assist pipeline or
// session.
func NotFound(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf(format, args...),
	}
}

// ServiceUnavailable reports a transient condition: Home Assistant is
// unreachable, a pending request timed out, or driver setup is required.
func ServiceUnavailable(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: fmt.Sprintf(format, args...),
	}
}

// NotConnected reports an operation that requires an active Home Assistant
// connection.
func NotConnected() *ServiceError {
	return &ServiceError{
		Status:  http.StatusServiceUnavailable,
		Code:    "NOT_CONNECTED",
		Message: "The connection is closed or closing",
	}
}

// NotImplemented reports an operation the bridge does not support yet.
func NotImplemented(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Status:  http.StatusNotImplemented,
		Code:    "NOT_IMPLEMENTED",
		Message: fmt.Sprintf(format, args...),
	}
}

// Internal reports a programmer bug or serialization failure.
func Internal(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches an underlying cause to a ServiceError.
func Wrap(err *ServiceError, cause error) *ServiceError {
	wrapped := *err
	wrapped.underlying = cause
	return &wrapped
}

// StatusOf returns the HTTP-like status code of err, or 500 for plain errors.
func StatusOf(err error) int {
	if se, ok := err.(*ServiceError); ok {
		return se.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine-readable code of err, or INTERNAL_ERROR for
// plain errors.
func CodeOf(err error) string {
	if se, ok := err.(*ServiceError); ok {
		return se.Code
	}
	return "INTERNAL_ERROR"
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	if se, ok := err.(*ServiceError); ok {
		return se.Message
	}
	return err.Error()
}

// IsBadRequest reports whether err is a BAD_REQUEST service error.
func IsBadRequest(err error) bool {
	se, ok := err.(*ServiceError)
	return ok && se.Code == "BAD_REQUEST"
}
