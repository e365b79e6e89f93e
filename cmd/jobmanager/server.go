package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
	"github.com/vinayprograms/jobmanager/logging"
	"github.com/vinayprograms/jobmanager/metrics"
	"github.com/vinayprograms/jobmanager/taskpool"
	"github.com/vinayprograms/jobmanager/timeout"
)

const (
	// maxSleep caps the d and timeout parameters of /jobs/sleep.
	maxSleep = 5 * time.Minute

	// stopTimeout bounds how long OnShutdown waits for handlers to return
	// before closing their connections.
	stopTimeout = 5 * time.Second
)

// server exposes the pool over HTTP. Each /jobs request is a pending task.
type server struct {
	pool       *taskpool.Pool
	logger     *logging.Logger
	jobTimeout time.Duration
	http       *http.Server

	stopping chan struct{}
	stopOnce sync.Once
}

func newServer(addr string, pool *taskpool.Pool, m *metrics.Metrics, jobTimeout time.Duration, logger *logging.Logger) *server {
	s := &server{
		pool:       pool,
		logger:     logger.WithComponent("http"),
		jobTimeout: jobTimeout,
		stopping:   make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/jobs/sleep", s.handleSleep)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "jobmanager"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve accepts connections on ln until OnShutdown is called.
func (s *server) Serve(ln net.Listener) error {
	s.logger.Info("listening", logging.Fields{"addr": ln.Addr().String()})
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OnShutdown stops accepting requests. Handlers waiting on a job answer at
// once with the job still running; the job itself is left to the pool drain.
// Connections still open after stopTimeout are closed.
func (s *server) OnShutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	err := timeout.Do(ctx, stopTimeout, s.http.Shutdown)
	if err != nil {
		_ = s.http.Close()
	}
	return err
}

type healthResponse struct {
	Status     string `json:"status"`
	Pending    int    `json:"pending"`
	Background int    `json:"background"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Pending:    s.pool.Pending(),
		Background: s.pool.Background(),
	}
	if s.pool.Closed() {
		resp.Status = "closed"
	}
	writeJSON(w, http.StatusOK, resp)
}

type jobResponse struct {
	Task     string `json:"task"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleSleep runs a job that sleeps for d, bounded by timeout (default the
// server's job timeout). The job belongs to the pool, so a client that
// disconnects does not cancel it and shutdown drains it. Once shutdown
// starts the handler answers 202 without waiting for the job.
func (s *server) handleSleep(w http.ResponseWriter, r *http.Request) {
	d, err := durationParam(r, "d", 0)
	if err != nil || d < 0 || d > maxSleep {
		writeError(w, http.StatusBadRequest, "d must be a duration between 0 and 5m")
		return
	}
	bound, err := durationParam(r, "timeout", s.jobTimeout)
	if err != nil || bound <= 0 || bound > maxSleep {
		writeError(w, http.StatusBadRequest, "timeout must be a duration between 0 and 5m")
		return
	}

	task := s.pool.Go(context.WithoutCancel(r.Context()), "sleep", func(ctx context.Context) error {
		return timeout.Do(ctx, bound, func(ctx context.Context) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	select {
	case <-task.Done():
	case <-r.Context().Done():
		// Client went away; the job keeps running in the pool.
		return
	case <-s.stopping:
		select {
		case <-task.Done():
		default:
			writeJSON(w, http.StatusAccepted, jobResponse{
				Task:   task.ID(),
				Status: task.Status().String(),
			})
			return
		}
	}

	resp := jobResponse{
		Task:     task.ID(),
		Status:   task.Status().String(),
		Duration: task.Duration().String(),
	}
	code := http.StatusOK
	if err := task.Err(); err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
		if jmerrors.IsRetryable(err) {
			w.Header().Set("Retry-After", "1")
		}
	}
	writeJSON(w, code, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, timeout.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, taskpool.ErrPoolClosed), errors.Is(err, taskpool.ErrShutdown):
		return http.StatusServiceUnavailable
	case jmerrors.Is(err, jmerrors.ErrCodeCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func durationParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
