package errors

import "fmt"

// Error is a failure tagged with an ErrorCode. Its category, and with it
// whether a retry may help, follows from the code.
type Error struct {
	code    ErrorCode
	message string
	cause   error
}

// Option configures an Error.
type Option func(*Error)

// WithCause records the error that led to this one.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New returns an Error with code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the category implied by the code.
func (e *Error) Category() ErrorCategory { return e.code.Category() }

// Retryable reports whether the same operation may succeed if repeated.
func (e *Error) Retryable() bool { return e.Category() == CategoryTransient }

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.cause }

// Timeout returns a TIMEOUT error.
func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

// Canceled returns a CANCELED error.
func Canceled(message string, opts ...Option) *Error {
	return New(ErrCodeCanceled, message, opts...)
}

// InvalidInput returns an INVALID_INPUT error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Panic describes a value recovered from a panicking task.
func Panic(recovered interface{}) *Error {
	return New(ErrCodePanic, fmt.Sprintf("panic: %v", recovered))
}

// TaskFailed wraps the error a task finished with.
func TaskFailed(taskID string, cause error) *Error {
	return New(ErrCodeTaskFailed, "task "+taskID+" failed", WithCause(cause))
}
