package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds message to err and returns nil for a nil err. The code is taken
// from the outermost *Error in err's chain; otherwise context.DeadlineExceeded
// maps to TIMEOUT, context.Canceled to CANCELED and anything else to INTERNAL.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return New(e.code, message, WithCause(err))
	case errors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeTimeout, message, WithCause(err))
	case errors.Is(err, context.Canceled):
		return New(ErrCodeCanceled, message, WithCause(err))
	default:
		return New(ErrCodeInternal, message, WithCause(err))
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under an explicit code. It returns nil for a nil err.
func WrapWithCode(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, WithCause(err))
}

// Is reports whether the outermost *Error in err's chain has code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.code == code
}

// IsRetryable reports whether the outermost *Error in err's chain is
// transient. Plain errors are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// IsCancellation reports whether err is a context cancellation or a
// CANCELED error.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || Is(err, ErrCodeCanceled)
}
