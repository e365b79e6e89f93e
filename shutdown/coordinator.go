package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/jobmanager/logging"
	"github.com/vinayprograms/jobmanager/timeout"
)

// Coordinator runs registered shutdown handlers in phase order. Handlers in
// the same phase run concurrently.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu            sync.Mutex
	handlers      []registration
	shutdownOnce  sync.Once
	shutdownErr   error
	done          chan struct{}
	result        *ShutdownResult
	signalChan    chan os.Signal
	stopSignals   chan struct{}
	shutdownStart time.Time
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Coordinator{
		config:      config,
		logger:      logger.WithComponent("shutdown"),
		handlers:    make([]registration, 0),
		done:        make(chan struct{}),
		signalChan:  make(chan os.Signal, 1),
		stopSignals: make(chan struct{}),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler ShutdownHandler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler with a specific phase. Lower phases shut
// down first.
func (c *Coordinator) RegisterWithPhase(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{
		name:    name,
		handler: handler,
		phase:   phase,
	})
}

// RegisterRequired adds a handler that runs in its phase even when shutdown
// has already overrun its deadline or stopped on an earlier failure. It gets
// whatever context is left, possibly already done, and should return
// promptly in that case.
func (c *Coordinator) RegisterRequired(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{
		name:     name,
		handler:  handler,
		phase:    phase,
		required: true,
	})
}

// RegisterFunc registers a function as a handler in the default phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, ShutdownFunc(fn))
}

// RegisterFuncWithPhase registers a function as a handler with a phase.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, ShutdownFunc(fn), phase)
}

// Shutdown runs every handler registered so far. Later calls wait for the
// first to finish and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownStart = time.Now()
		c.shutdownErr = c.doShutdown(ctx)
		close(c.done)
	})
	return c.shutdownErr
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the configured
// default when timeout is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown on the first SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-c.signalChan:
			c.logger.Signal(signalName(sig))
			if err := c.ShutdownWithTimeout(c.config.DefaultTimeout); err != nil {
				c.logger.Error("shutdown incomplete", logging.Fields{"error": err.Error()})
			}
		case <-c.stopSignals:
		}
	}()
}

// StopSignals stops signal delivery started by HandleSignals.
func (c *Coordinator) StopSignals() {
	signal.Stop(c.signalChan)
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopSignals:
	default:
		close(c.stopSignals)
	}
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return sig.String()
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed, nil before.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.shutdownErr
	default:
		return nil
	}
}

// Result returns the detailed shutdown result, or nil before Done is closed.
func (c *Coordinator) Result() *ShutdownResult {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) doShutdown(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &ShutdownResult{
		Results: make([]HandlerResult, 0, len(handlers)),
	}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(c.shutdownStart)
		c.result = result
		if err != nil {
			c.logger.Warn("shutdown finished with errors", logging.Fields{
				"duration": result.TotalDuration.String(),
				"failed":   len(result.FailedHandlers()),
			})
		} else {
			c.logger.Info("shutdown complete", logging.Fields{"duration": result.TotalDuration.String()})
		}
		return err
	}

	var overallErr, stopErr error
	for _, group := range groupByPhase(handlers) {
		if stopErr == nil && ctx.Err() != nil {
			stopErr = ErrTimeout
		}
		if stopErr != nil {
			group = requiredOnly(group)
			if len(group) == 0 {
				continue
			}
		}

		phaseResults := c.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err == nil {
				continue
			}
			if overallErr == nil {
				overallErr = ErrHandlerFailed
			}
			if !c.config.ContinueOnError && stopErr == nil {
				stopErr = overallErr
			}
		}
	}

	if stopErr != nil {
		return finish(stopErr)
	}
	return finish(overallErr)
}

func requiredOnly(group []registration) []registration {
	var out []registration
	for _, r := range group {
		if r.required {
			out = append(out, r)
		}
	}
	return out
}

// executePhase runs all handlers in a phase concurrently, each bounded by
// the phase timeout when one is configured.
func (c *Coordinator) executePhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := c.invoke(ctx, r)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr
			c.logResult(hr)

			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

func (c *Coordinator) invoke(ctx context.Context, r registration) error {
	if c.config.PhaseTimeout <= 0 {
		return r.handler.OnShutdown(ctx)
	}
	return timeout.Do(ctx, c.config.PhaseTimeout, r.handler.OnShutdown)
}

func (c *Coordinator) logResult(hr HandlerResult) {
	fields := logging.Fields{
		"handler":  hr.Name,
		"phase":    hr.Phase,
		"duration": hr.Duration.String(),
	}
	if hr.Err != nil {
		fields["error"] = hr.Err.Error()
		c.logger.Warn("shutdown handler failed", fields)
		return
	}
	c.logger.Info("shutdown handler done", fields)
}

// groupByPhase splits handlers, already sorted by phase, into phase groups.
func groupByPhase(handlers []registration) [][]registration {
	if len(handlers) == 0 {
		return nil
	}

	var groups [][]registration
	var currentGroup []registration
	currentPhase := handlers[0].phase

	for _, h := range handlers {
		if h.phase != currentPhase {
			groups = append(groups, currentGroup)
			currentGroup = nil
			currentPhase = h.phase
		}
		currentGroup = append(currentGroup, h)
	}

	if len(currentGroup) > 0 {
		groups = append(groups, currentGroup)
	}

	return groups
}

// Trigger simulates a SIGTERM. Only effective after HandleSignals.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}
