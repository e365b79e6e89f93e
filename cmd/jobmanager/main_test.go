package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/jobmanager/bus"
	"github.com/vinayprograms/jobmanager/config"
	"github.com/vinayprograms/jobmanager/logging"
	"github.com/vinayprograms/jobmanager/metrics"
	"github.com/vinayprograms/jobmanager/shutdown"
	"github.com/vinayprograms/jobmanager/taskpool"
)

type jobReply struct {
	code int
	body jobResponse
	err  error
}

// startApp brings the process up on a loopback port the way run does.
func startApp(t *testing.T) (*app, *taskpool.Pool) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Heartbeat.Interval = 10 * time.Millisecond

	m := metrics.New()
	pool := taskpool.New(taskpool.WithObserver(m), taskpool.WithGracePeriod(5*time.Second))
	a, err := start(context.Background(), cfg, logging.Discard(), pool, m)
	require.NoError(t, err)
	t.Cleanup(func() { a.bus.Close() })

	go a.server.Serve(a.listener)
	return a, pool
}

func requestJob(url string) <-chan jobReply {
	replies := make(chan jobReply, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			replies <- jobReply{err: err}
			return
		}
		defer resp.Body.Close()
		var body jobResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		replies <- jobReply{code: resp.StatusCode, body: body, err: err}
	}()
	return replies
}

func newCoordinator(a *app, pool *taskpool.Pool, deadline time.Duration) *shutdown.Coordinator {
	coord := shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout:  deadline,
		ContinueOnError: true,
	})
	registerShutdown(coord, a, pool, nil, logging.Discard())
	return coord
}

func TestShutdown_InFlightJobIsDrainedByPool(t *testing.T) {
	a, pool := startApp(t)
	replies := requestJob("http://" + a.listener.Addr().String() + "/jobs/sleep?d=500ms&timeout=10s")
	require.Eventually(t, func() bool { return pool.Pending() == 1 }, 2*time.Second, time.Millisecond)

	coord := newCoordinator(a, pool, 5*time.Second)
	require.NoError(t, coord.ShutdownWithTimeout(0))

	reply := <-replies
	require.NoError(t, reply.err)
	assert.Equal(t, http.StatusAccepted, reply.code)
	assert.Equal(t, "running", reply.body.Status)

	assert.True(t, pool.Closed())
	assert.Zero(t, pool.Pending())
	assert.Zero(t, pool.Background())

	result := coord.Result()
	require.NotNil(t, result)
	for _, hr := range result.Results {
		if hr.Name == "http-server" {
			assert.Less(t, hr.Duration, 400*time.Millisecond, "the HTTP phase must not wait for jobs")
		}
	}
}

func TestShutdown_PoolClosedWhenDeadlineIsShort(t *testing.T) {
	a, pool := startApp(t)
	replies := requestJob("http://" + a.listener.Addr().String() + "/jobs/sleep?d=2s&timeout=10s")
	require.Eventually(t, func() bool { return pool.Pending() == 1 }, 2*time.Second, time.Millisecond)

	coord := newCoordinator(a, pool, 500*time.Millisecond)
	began := time.Now()
	err := coord.ShutdownWithTimeout(0)
	assert.Error(t, err)
	assert.Less(t, time.Since(began), 2*time.Second)

	assert.True(t, pool.Closed())
	assert.Eventually(t, func() bool { return pool.Background() == 0 }, time.Second, time.Millisecond,
		"the heartbeat poller must be cancelled")

	var ran bool
	for _, hr := range coord.Result().Results {
		if hr.Name == "taskpool" {
			ran = true
		}
	}
	assert.True(t, ran)

	reply := <-replies
	require.NoError(t, reply.err)
	assert.Equal(t, http.StatusAccepted, reply.code)
}

func TestStart_ClosesBusOnFailure(t *testing.T) {
	var opened bus.MessageBus
	openBus = func(cfg config.BusConfig) (bus.MessageBus, error) {
		b, err := newBus(cfg)
		opened = b
		return b, err
	}
	t.Cleanup(func() { openBus = newBus })

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Heartbeat.AgentID = ""

	pool := taskpool.New()
	t.Cleanup(func() { _, _ = pool.Close(context.Background(), 0) })

	_, err := start(context.Background(), cfg, logging.Discard(), pool, metrics.New())
	require.Error(t, err)
	require.NotNil(t, opened)
	assert.ErrorIs(t, opened.Publish("heartbeat.x", nil), bus.ErrClosed)
	assert.Zero(t, pool.Background())
}

func TestStart_ListenFailureOpensNothing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var opened bool
	openBus = func(cfg config.BusConfig) (bus.MessageBus, error) {
		opened = true
		return newBus(cfg)
	}
	t.Cleanup(func() { openBus = newBus })

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	pool := taskpool.New()
	t.Cleanup(func() { _, _ = pool.Close(context.Background(), 0) })

	_, err = start(context.Background(), cfg, logging.Discard(), pool, metrics.New())
	require.Error(t, err)
	assert.False(t, opened)
}
