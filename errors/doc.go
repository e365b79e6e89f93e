// Package errors provides the structured error taxonomy used across
// jobmanager. Every failure the coordinator reports carries an ErrorCode and
// an ErrorCategory so that hosts can tell a scoped timeout apart from an
// external cancellation or a task that panicked.
//
// # Error Categories
//
//   - Transient: the operation may succeed if tried again (TIMEOUT, UNAVAILABLE)
//   - Permanent: retrying will not help (CANCELED, INVALID_INPUT, TASK_FAILED)
//   - Internal: bugs and recovered panics (INTERNAL, PANIC)
//
// # Usage
//
//	err := errors.Timeout("scoped timeout expired", errors.WithCause(ctx.Err()))
//
//	if errors.Is(err, errors.ErrCodeTimeout) {
//	    // reclassified cancellation
//	}
//
// Sentinels defined by other packages are *Error values, so the standard
// library's errors.Is works on them as well.
package errors
