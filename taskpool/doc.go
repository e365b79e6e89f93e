// Package taskpool tracks concurrently running tasks and drains them in an
// orderly way when the process shuts down.
//
// A Pool keeps two disjoint sets. Pending tasks (one per inbound request,
// say) are expected to finish on their own. Background tasks (polling loops,
// heartbeat senders) run until cancelled. Tasks remove themselves from their
// set when they return, so the pool never needs explicit deregistration and
// never keeps a finished task reachable.
//
// # Usage
//
//	pool := taskpool.New(taskpool.WithLogger(logger))
//
//	pool.GoBackground(ctx, "poller", func(ctx context.Context) error {
//	    ticker := time.NewTicker(time.Second)
//	    defer ticker.Stop()
//	    for {
//	        select {
//	        case <-ctx.Done():
//	            return ctx.Err()
//	        case <-ticker.C:
//	            poll()
//	        }
//	    }
//	})
//
//	task := pool.Go(ctx, "request", handle)
//	err := task.Wait(ctx)
//
//	// On shutdown:
//	result, err := pool.Close(ctx, 5*time.Second)
//
// # Drain phases
//
// Close cancels every background task, then gives pending tasks up to the
// grace period to finish, then waits for everything still tracked. Pending
// tasks that outlive the grace period are not cancelled; the final wait is
// bounded only by the context passed to Close. Cancellation is cooperative:
// a task that ignores its context keeps Close waiting.
//
// Task failures, including recovered panics, are collected in the
// DrainResult. Close never fails because a task failed.
package taskpool
