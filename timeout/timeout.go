package timeout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
)

// State is a Timeout's position in its lifecycle.
type State int

const (
	// StateIdle: created, not entered.
	StateIdle State = iota
	// StateArmed: entered, deadline pending.
	StateArmed
	// StateFired: the deadline cancelled the scope before it exited.
	StateFired
	// StateDisarmed: the scope is exiting before the deadline.
	StateDisarmed
	// StateDone: exited.
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateDisarmed:
		return "disarmed"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrTimedOut is wrapped by the error Exit returns when the scope was
	// cancelled by its own deadline.
	ErrTimedOut = jmerrors.Timeout("scoped timeout expired")

	// ErrAlreadyEntered is returned by Enter on a Timeout that is not idle.
	ErrAlreadyEntered = jmerrors.New(jmerrors.ErrCodeAlreadyExists, "timeout scope already entered")
)

// expiry is the cancellation cause a Timeout tags its scope with. Each
// Timeout has its own, so nested scopes only claim their own expiry.
type expiry struct {
	bound time.Duration
}

func (e *expiry) Error() string {
	return fmt.Sprintf("deadline of %s expired", e.bound)
}

// Timeout bounds a scope of work. Enter arms a deadline against the calling
// operation; if it fires before Exit, the scope's context is cancelled and
// Exit reports a timeout instead of the raw cancellation.
//
// A Timeout is single-use.
type Timeout struct {
	bound time.Duration
	cause *expiry

	mu      sync.Mutex
	state   State
	expired bool
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
}

// New creates an idle Timeout with the given bound.
func New(bound time.Duration) *Timeout {
	return &Timeout{
		bound: bound,
		cause: &expiry{bound: bound},
	}
}

// Bound returns the duration fixed at construction.
func (t *Timeout) Bound() time.Duration {
	return t.bound
}

// State returns the current lifecycle state.
func (t *Timeout) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Expired reports whether the deadline fired and cancelled the scope before
// it exited. It stays false when the scope was already cancelled from
// outside.
func (t *Timeout) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Enter captures ctx as the operation to cancel and arms the deadline. Work
// inside the scope must use the returned context. A bound <= 0 fires
// immediately.
func (t *Timeout) Enter(ctx context.Context) (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return nil, ErrAlreadyEntered
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.ctx, t.cancel = context.WithCancelCause(ctx)
	t.state = StateArmed
	t.timer = time.AfterFunc(t.bound, t.fire)
	return t.ctx, nil
}

// fire is the deadline callback.
func (t *Timeout) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateArmed {
		return
	}
	// A scope already cancelled from outside keeps that cause.
	t.cancel(t.cause)
	if context.Cause(t.ctx) != error(t.cause) {
		return
	}
	t.state = StateFired
	t.expired = true
}

// Exit leaves the scope with err, the outcome of the work done inside it.
//
// If err is a cancellation and the scope was cancelled by this Timeout's
// deadline, Exit returns a TIMEOUT error wrapping ErrTimedOut. In every other
// case the deadline is disarmed and err is returned unchanged. The deadline
// and the captured context are always released.
func (t *Timeout) Exit(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateArmed && t.state != StateFired {
		return err
	}

	ownExpiry := context.Cause(t.ctx) == error(t.cause)
	if t.state == StateArmed {
		t.state = StateDisarmed
	}
	t.timer.Stop()
	t.cancel(context.Canceled)

	t.state = StateDone
	t.timer = nil
	t.ctx = nil
	t.cancel = nil

	if ownExpiry && isCancellation(err) {
		return jmerrors.WrapWithCode(ErrTimedOut, jmerrors.ErrCodeTimeout,
			fmt.Sprintf("timed out after %s", t.bound))
	}
	return err
}

func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	var e *expiry
	return errors.As(err, &e) || jmerrors.IsCancellation(err)
}

// Do runs fn inside a Timeout scope bounded by bound. It returns an error
// satisfying errors.Is(err, ErrTimedOut) if fn was cancelled by the bound,
// and fn's own error otherwise. The scope is exited even if fn panics.
func Do(ctx context.Context, bound time.Duration, fn func(ctx context.Context) error) (err error) {
	t := New(bound)
	scope, err := t.Enter(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			t.Exit(nil)
			panic(r)
		}
	}()

	return t.Exit(fn(scope))
}
