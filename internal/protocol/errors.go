package protocol

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nuetzliches/beanbridge/internal/bean"
)

// Error-type tags carried in the error_type field of failure envelopes.
const (
	ErrorTypeInvalidRequest    = "InvalidRequest"
	ErrorTypeInstanceNotFound  = "InstanceNotFound"
	ErrorTypeAttributeNotFound = "AttributeNotFound"
	ErrorTypeOperationNotFound = "OperationNotFound"
	ErrorTypeForbidden         = "Forbidden"
	ErrorTypeTargetFailure     = "TargetFailure"
	ErrorTypeInternal          = "InternalError"
)

// ErrForbidden is the restrictor denial sentinel. Responses carrying it are
// rendered with status 403 and no stacktrace.
var ErrForbidden = errors.New("access denied")

// Error is the protocol-level failure record: an HTTP-like status, an
// error_type tag, a human detail and the wrapped cause.
type Error struct {
	Status int
	Type   string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil && e.Detail != "" {
		return e.Detail + ": " + e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func Invalidf(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Type: ErrorTypeInvalidRequest, Detail: fmt.Sprintf(format, args...)}
}

func NotFoundf(errorType, format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Type: errorType, Detail: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Status: http.StatusForbidden, Type: ErrorTypeForbidden, Detail: fmt.Sprintf(format, args...), Cause: ErrForbidden}
}

// TargetFailure wraps a failure thrown by the invoked bean itself. The cause
// is unwrapped one level so the client sees the operation's own error.
func TargetFailure(cause error) *Error {
	detail := "target operation failed"
	if unwrapped := errors.Unwrap(cause); unwrapped != nil {
		cause = unwrapped
	}
	return &Error{Status: http.StatusInternalServerError, Type: ErrorTypeTargetFailure, Detail: detail, Cause: cause}
}

func Internalf(format string, args ...any) *Error {
	return &Error{Status: http.StatusInternalServerError, Type: ErrorTypeInternal, Detail: fmt.Sprintf(format, args...)}
}

// Classify maps any error onto its protocol Error. Typed protocol errors
// pass through; registry sentinels map per the error-code table; everything
// else is an internal 500.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, ErrForbidden):
		return &Error{Status: http.StatusForbidden, Type: ErrorTypeForbidden, Cause: err}
	case errors.Is(err, bean.ErrInstanceNotFound):
		return &Error{Status: http.StatusNotFound, Type: ErrorTypeInstanceNotFound, Cause: err}
	case errors.Is(err, bean.ErrAttributeNotFound), errors.Is(err, bean.ErrAttributeNotReadable), errors.Is(err, bean.ErrAttributeNotWritable):
		return &Error{Status: http.StatusNotFound, Type: ErrorTypeAttributeNotFound, Cause: err}
	case errors.Is(err, bean.ErrOperationNotFound):
		return &Error{Status: http.StatusNotFound, Type: ErrorTypeOperationNotFound, Cause: err}
	case errors.Is(err, bean.ErrInvalidName):
		return &Error{Status: http.StatusBadRequest, Type: ErrorTypeInvalidRequest, Cause: err}
	default:
		return &Error{Status: http.StatusInternalServerError, Type: ErrorTypeInternal, Cause: err}
	}
}
