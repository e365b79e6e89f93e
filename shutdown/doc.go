// Package shutdown orders the shutdown of a jobmanager process.
//
// Handlers register with a phase; lower phases shut down first and handlers
// in the same phase shut down concurrently. The host uses three phases:
//
//   - 10: the HTTP server stops accepting requests
//   - 20: the task pool drains (taskpool.Pool implements ShutdownHandler)
//   - 30: the message bus and telemetry provider are closed
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.Config{
//	    DefaultTimeout: 30 * time.Second,
//	    Logger:         logger,
//	})
//	coord.HandleSignals()
//	coord.RegisterRequired("taskpool", pool, 20)
//	<-coord.Done()
//
// Once the deadline has passed, or a failure stopped the sequence with
// ContinueOnError unset, only handlers registered with RegisterRequired run.
//
// With Config.PhaseTimeout set, each handler runs inside a timeout scope and
// a handler cut off by it reports an error matching timeout.ErrTimedOut.
package shutdown
