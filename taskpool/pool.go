package taskpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
	"github.com/vinayprograms/jobmanager/logging"
	"github.com/vinayprograms/jobmanager/telemetry"
)

// DefaultGracePeriod bounds how long OnShutdown waits for pending tasks.
const DefaultGracePeriod = 5 * time.Second

// Cancellation causes and pool errors.
var (
	// ErrCancelled is the cause recorded by Task.Cancel.
	ErrCancelled = jmerrors.Canceled("task cancelled")

	// ErrShutdown is the cause recorded on background tasks cancelled by Close.
	ErrShutdown = jmerrors.Canceled("task pool shutting down")

	// ErrPoolClosed is the error of tasks registered after Close finished.
	ErrPoolClosed = jmerrors.New(jmerrors.ErrCodeUnavailable, "task pool closed")

	// ErrAlreadyClosed is returned by a second call to Close.
	ErrAlreadyClosed = jmerrors.New(jmerrors.ErrCodeAlreadyExists, "task pool close already called")

	errTaskFinished = errors.New("task finished")
)

// DrainResult summarises a Close. Task failures are collected here and
// never returned as Close's error.
type DrainResult struct {
	// Duration of the whole drain.
	Duration time.Duration

	// GraceExpired is true when pending tasks were still running at the end
	// of the grace period.
	GraceExpired bool

	Completed int
	Failed    int
	Cancelled int

	// Running counts tasks still running when the drain was interrupted.
	Running int

	// Errors maps task IDs to the errors of failed tasks, each wrapped as a
	// TASK_FAILED error.
	Errors map[string]error
}

// Total returns the number of tasks the drain observed.
func (r *DrainResult) Total() int {
	return r.Completed + r.Failed + r.Cancelled + r.Running
}

// Pool tracks pending and background tasks and drains them on Close.
type Pool struct {
	mu         sync.Mutex
	pending    map[*Task]struct{}
	background map[*Task]struct{}
	closing    bool
	closed     bool

	// late holds tasks registered while Close runs, so the drain result
	// counts them even if they finish before the final snapshot.
	late []*Task

	logger   *logging.Logger
	tracer   *telemetry.Tracer
	observer Observer
	grace    time.Duration
	idGen    func() string
}

// Observer receives task and drain outcomes, typically to record metrics.
// Calls are made from task goroutines and must not block.
type Observer interface {
	TaskFinished(kind Kind, status Status, duration time.Duration)
	Drained(result *DrainResult)
}

type nopObserver struct{}

func (nopObserver) TaskFinished(Kind, Status, time.Duration) {}
func (nopObserver) Drained(*DrainResult)                     {}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) {
		p.logger = l.WithComponent("taskpool")
	}
}

// WithTracer sets the tracer. Default: the global telemetry tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(p *Pool) {
		p.tracer = t
	}
}

// WithGracePeriod sets the grace period used by OnShutdown.
func WithGracePeriod(d time.Duration) Option {
	return func(p *Pool) {
		p.grace = d
	}
}

// WithObserver sets an observer for task and drain outcomes.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		p.observer = o
	}
}

// WithIDGenerator sets a custom task ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(p *Pool) {
		p.idGen = gen
	}
}

// New creates an empty pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		pending:    make(map[*Task]struct{}),
		background: make(map[*Task]struct{}),
		logger:     logging.Discard(),
		observer:   nopObserver{},
		grace:      DefaultGracePeriod,
		idGen:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = telemetry.GetTracer()
	}
	return p
}

// Go starts fn as a pending task: work expected to finish on its own, such
// as one inbound request. It never blocks. The task's context derives from
// ctx.
func (p *Pool) Go(ctx context.Context, name string, fn Func) *Task {
	return p.spawn(ctx, name, KindPending, fn)
}

// GoBackground starts fn as a background task: work that runs until it is
// cancelled, such as a polling loop. Close always cancels background tasks.
func (p *Pool) GoBackground(ctx context.Context, name string, fn Func) *Task {
	return p.spawn(ctx, name, KindBackground, fn)
}

// Pending returns the number of pending tasks still running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Background returns the number of background tasks still running.
func (p *Pool) Background() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.background)
}

// Closed reports whether Close has finished taking its final snapshot.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) spawn(ctx context.Context, name string, kind Kind, fn Func) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	t := newTask(ctx, p.idGen(), name, kind)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.finish(ErrPoolClosed)
		close(t.done)
		p.logger.Warn("task rejected, pool closed", logging.Fields{"name": name})
		return t
	}
	p.setFor(kind)[t] = struct{}{}
	if p.closing {
		p.late = append(p.late, t)
	}
	p.mu.Unlock()

	p.logger.TaskStart(t.id, name, kind.String())
	go p.run(t, fn)
	return t
}

// setFor returns the membership set for kind. Callers hold p.mu.
func (p *Pool) setFor(kind Kind) map[*Task]struct{} {
	if kind == KindBackground {
		return p.background
	}
	return p.pending
}

func (p *Pool) run(t *Task, fn Func) {
	ctx, span := p.tracer.StartTaskSpan(t.ctx, t.id, t.name, t.kind.String())

	err := invoke(ctx, fn)
	status := t.finish(err)

	p.mu.Lock()
	delete(p.setFor(t.kind), t)
	p.mu.Unlock()

	p.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{
		ID:     t.id,
		Name:   t.name,
		Kind:   t.kind.String(),
		Status: status.String(),
	}, err)
	p.logger.TaskFinish(t.id, t.name, status.String(), t.Duration(), err)
	p.observer.TaskFinished(t.kind, status, t.Duration())

	close(t.done)
}

func invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jmerrors.Panic(r)
		}
	}()
	return fn(ctx)
}

// snapshot copies the tasks of kind. Callers hold p.mu.
func (p *Pool) snapshot(kind Kind) []*Task {
	set := p.setFor(kind)
	tasks := make([]*Task, 0, len(set))
	for t := range set {
		tasks = append(tasks, t)
	}
	return tasks
}

// Close shuts the pool down in three phases:
//
//  1. every background task is cancelled;
//  2. up to timeout is spent waiting for the pending tasks present at that
//     point; timeout <= 0 skips the wait, and expiry cancels nothing;
//  3. every task still tracked, pending or background, is awaited.
//
// Task errors are collected in the DrainResult and never returned. Close
// returns an error only if ctx ends during the drain, leaving tasks running,
// or if Close was already called. Once the final snapshot is taken the pool
// rejects new tasks with ErrPoolClosed.
func (p *Pool) Close(ctx context.Context, timeout time.Duration) (*DrainResult, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	p.closing = true
	background := p.snapshot(KindBackground)
	p.mu.Unlock()

	start := time.Now()
	ctx, span := p.tracer.StartDrainSpan(ctx, timeout)
	seen := make(map[*Task]struct{})

	p.logger.DrainPhase(1, "cancel_background", len(background))
	p.tracer.DrainPhase(span, 1, "cancel_background", len(background))
	for _, t := range background {
		seen[t] = struct{}{}
		t.cancel(ErrShutdown)
	}

	p.mu.Lock()
	pending := p.snapshot(KindPending)
	p.mu.Unlock()

	p.logger.DrainPhase(2, "grace", len(pending))
	p.tracer.DrainPhase(span, 2, "grace", len(pending))
	for _, t := range pending {
		seen[t] = struct{}{}
	}
	if timeout > 0 && len(pending) > 0 {
		grace := time.NewTimer(timeout)
		waitAll(ctx, pending, grace.C)
		grace.Stop()
	}
	graceExpired := anyRunning(pending)

	// Final snapshot; nothing can be added after this.
	p.mu.Lock()
	remaining := append(p.snapshot(KindPending), p.snapshot(KindBackground)...)
	late := p.late
	p.late = nil
	p.closed = true
	p.mu.Unlock()

	for _, t := range late {
		seen[t] = struct{}{}
	}

	p.logger.DrainPhase(3, "join", len(remaining))
	p.tracer.DrainPhase(span, 3, "join", len(remaining))
	for _, t := range remaining {
		seen[t] = struct{}{}
		// Background work registered after phase 1 is cancelled too.
		if t.kind == KindBackground {
			t.cancel(ErrShutdown)
		}
	}

	var err error
	if !waitAll(ctx, remaining, nil) {
		err = jmerrors.Wrap(ctx.Err(), "task pool drain interrupted")
	}

	result := collect(seen)
	result.GraceExpired = graceExpired
	result.Duration = time.Since(start)

	if err != nil {
		p.logger.Error("drain interrupted", logging.Fields{
			"running": result.Running,
			"error":   err.Error(),
		})
	}
	p.logger.DrainComplete(result.Duration, result.Completed, result.Failed, result.Cancelled, result.GraceExpired)
	p.tracer.EndDrainSpan(span, telemetry.DrainSpanOptions{
		Completed:    result.Completed,
		Failed:       result.Failed,
		Cancelled:    result.Cancelled,
		GraceExpired: result.GraceExpired,
	}, err)
	p.observer.Drained(result)

	return result, err
}

// OnShutdown implements shutdown.ShutdownHandler using the configured grace
// period.
func (p *Pool) OnShutdown(ctx context.Context) error {
	_, err := p.Close(ctx, p.grace)
	return err
}

// waitAll waits for every task. It returns false if ctx ended or expired
// fired first; a nil expired never fires.
func waitAll(ctx context.Context, tasks []*Task, expired <-chan time.Time) bool {
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-expired:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func anyRunning(tasks []*Task) bool {
	for _, t := range tasks {
		select {
		case <-t.done:
		default:
			return true
		}
	}
	return false
}

func collect(tasks map[*Task]struct{}) *DrainResult {
	result := &DrainResult{Errors: make(map[string]error)}
	for t := range tasks {
		select {
		case <-t.done:
		default:
			result.Running++
			continue
		}
		switch t.Status() {
		case StatusCompleted:
			result.Completed++
		case StatusCancelled:
			result.Cancelled++
		case StatusFailed:
			result.Failed++
			result.Errors[t.id] = jmerrors.TaskFailed(t.id, t.Err())
		}
	}
	return result
}
