package shutdown

import (
	"context"
	"time"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
	"github.com/vinayprograms/jobmanager/logging"
)

var (
	// ErrTimeout indicates shutdown did not complete before its context ended.
	ErrTimeout = jmerrors.Timeout("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = jmerrors.New(jmerrors.ErrCodeTaskFailed, "one or more shutdown handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = jmerrors.InvalidInput("invalid shutdown configuration")
)

// ShutdownHandler is implemented by components that need graceful shutdown.
// taskpool.Pool and telemetry.Provider both satisfy it.
type ShutdownHandler interface {
	// OnShutdown is called when shutdown is initiated. ctx ends when the
	// shutdown deadline or the handler's phase timeout is reached.
	OnShutdown(ctx context.Context) error
}

// ShutdownFunc adapts a plain function to ShutdownHandler.
type ShutdownFunc func(ctx context.Context) error

// OnShutdown implements ShutdownHandler.
func (f ShutdownFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration

	// Err is the handler's error. A handler cut off by the phase timeout
	// reports an error matching timeout.ErrTimedOut.
	Err error
}

// ShutdownResult contains the complete shutdown result.
type ShutdownResult struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is the overall error (nil if all handlers succeeded).
	Err error
}

// Failed returns true if any handler failed.
func (r *ShutdownResult) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *ShutdownResult) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// DefaultTimeout bounds the whole shutdown when it is triggered by a
	// signal or by ShutdownWithTimeout(0).
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// PhaseTimeout bounds each phase separately. Zero leaves phases bounded
	// only by the overall deadline.
	PhaseTimeout time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: 100
	DefaultPhase int

	// ContinueOnError determines whether later phases still run after a
	// handler fails.
	// Default: true
	ContinueOnError bool

	// Logger receives signal and handler progress. Default: discard.
	Logger *logging.Logger

	// OnProgress is called when each handler completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 || c.PhaseTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
	}
}

type registration struct {
	name     string
	handler  ShutdownHandler
	phase    int
	required bool
}
