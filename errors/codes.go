package errors

// ErrorCategory groups codes by what a caller can do about them.
type ErrorCategory string

const (
	// CategoryTransient: the operation may succeed later, e.g. a scoped
	// timeout or a pool that stopped taking work.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent: repeating the operation will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal: bugs and recovered panics.
	CategoryInternal ErrorCategory = "internal"
)

// ErrorCode identifies a failure.
type ErrorCode string

const (
	ErrCodeTimeout       ErrorCode = "TIMEOUT"        // scoped deadline expired
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"    // pool no longer accepts work
	ErrCodeCanceled      ErrorCode = "CANCELED"       // cancelled from outside
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"  // bad configuration or arguments
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // one-shot transition already made
	ErrCodeTaskFailed    ErrorCode = "TASK_FAILED"    // task returned an error
	ErrCodeInternal      ErrorCode = "INTERNAL"       // unexpected failure
	ErrCodePanic         ErrorCode = "PANIC"          // task panicked
)

// Category returns the category of the code. Unknown codes are internal.
func (c ErrorCode) Category() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeCanceled, ErrCodeInvalidInput, ErrCodeAlreadyExists, ErrCodeTaskFailed:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}
