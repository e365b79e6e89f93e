package taskpool

import (
	"context"
	"errors"
	"sync"
	"time"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
)

// Func is a unit of work tracked by a Pool. It must return promptly once
// ctx is cancelled.
type Func func(ctx context.Context) error

// Kind says which set a task belongs to.
type Kind int

const (
	// KindPending tasks are expected to finish on their own.
	KindPending Kind = iota
	// KindBackground tasks run until cancelled.
	KindBackground
)

// String returns the kind name used in logs and spans.
func (k Kind) String() string {
	if k == KindBackground {
		return "background"
	}
	return "pending"
}

// Status is the observable state of a task.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

// Task is the caller's handle on a tracked operation. The caller may wait
// on it, cancel it, or ignore it.
type Task struct {
	id      string
	name    string
	kind    Kind
	started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu       sync.Mutex
	err      error
	status   Status
	finished time.Time
}

func newTask(ctx context.Context, id, name string, kind Kind) *Task {
	tctx, cancel := context.WithCancelCause(ctx)
	return &Task{
		id:      id,
		name:    name,
		kind:    kind,
		started: time.Now(),
		ctx:     tctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Name returns the name given at registration.
func (t *Task) Name() string { return t.name }

// Kind returns whether the task is pending or background work.
func (t *Task) Kind() Kind { return t.kind }

// Done is closed once the task has returned and left its pool.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error. It is nil while the task is running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Status returns the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Duration returns how long the task ran, or has been running.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.IsZero() {
		return time.Since(t.started)
	}
	return t.finished.Sub(t.started)
}

// Cancel requests cancellation. The task decides when to stop.
func (t *Task) Cancel() {
	t.cancel(ErrCancelled)
}

// Wait blocks until the task finishes or ctx ends, returning the task's
// error in the first case and ctx's in the second.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cause returns why the task's context was cancelled, or nil if it never was.
func (t *Task) Cause() error {
	cause := context.Cause(t.ctx)
	if cause == errTaskFinished {
		return nil
	}
	return cause
}

// finish records the outcome. Callers close done afterwards.
func (t *Task) finish(err error) Status {
	status := StatusCompleted
	switch {
	case err == nil:
	case jmerrors.IsCancellation(err):
		status = StatusCancelled
	case t.ctx.Err() != nil && errors.Is(err, context.Cause(t.ctx)):
		status = StatusCancelled
	default:
		status = StatusFailed
	}

	t.mu.Lock()
	t.err = err
	t.status = status
	t.finished = time.Now()
	t.mu.Unlock()

	// Release the context's resources; the cause is kept if already set.
	t.cancel(errTaskFinished)
	return status
}
