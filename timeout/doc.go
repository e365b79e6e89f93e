// Package timeout provides a scoped deadline that cancels the enclosing
// operation and tells its own expiry apart from any other cancellation.
//
// The scope's cancellation carries a cause unique to the Timeout that armed
// it, so on exit the guard knows whether it caused the cancellation. Nested
// scopes each report only their own expiry; an outer deadline surfaces in an
// inner scope as a plain cancellation.
//
//	err := timeout.Do(ctx, 2*time.Second, func(ctx context.Context) error {
//	    return fetch(ctx)
//	})
//	if errors.Is(err, timeout.ErrTimedOut) {
//	    // fetch took too long
//	}
//
// The explicit form exposes the guard's state:
//
//	t := timeout.New(2 * time.Second)
//	scope, _ := t.Enter(ctx)
//	err := t.Exit(fetch(scope))
//	_ = t.Expired()
//
// Cancellation is cooperative: work that ignores its context runs to
// completion, and Exit then returns its result with Expired() reporting true.
package timeout
