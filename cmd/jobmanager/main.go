// Command jobmanager serves jobs over HTTP from a task pool and drains the
// pool on SIGINT or SIGTERM.
//
// Run: jobmanager -f jobmanager.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/vinayprograms/jobmanager/bus"
	"github.com/vinayprograms/jobmanager/config"
	"github.com/vinayprograms/jobmanager/heartbeat"
	"github.com/vinayprograms/jobmanager/logging"
	"github.com/vinayprograms/jobmanager/metrics"
	"github.com/vinayprograms/jobmanager/shutdown"
	"github.com/vinayprograms/jobmanager/taskpool"
	"github.com/vinayprograms/jobmanager/telemetry"
)

var version = "dev"

// Shutdown phases. Lower phases shut down first.
const (
	PhaseFrontend = 10 // stop accepting requests
	PhaseTasks    = 20 // drain the pool
	PhaseBackend  = 30 // close bus and telemetry
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("jobmanager", flag.ContinueOnError)
	var configPath string
	fs.StringVar(&configPath, "config", "", "path to config file")
	fs.StringVar(&configPath, "f", "", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	root := logging.New()
	logger := root.WithComponent("jobmanager")

	cfg, used, err := config.Load(configPath)
	if err != nil {
		logger.Error("critical: cannot load configuration", logging.Fields{"error": err.Error()})
		return 1
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	root.SetLevel(level)

	fields := logging.Fields{"addr": cfg.Server.Addr()}
	if used != "" {
		fields["config"] = used
	}
	logger.Info(fmt.Sprintf("Starting jobmanager - version %s", version), fields)

	ctx := context.Background()

	provider, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("critical: telemetry init failed", logging.Fields{"error": err.Error()})
		return 1
	}
	tracer := telemetry.GetTracer()
	if provider != nil {
		tracer = provider.Tracer()
	}

	m := metrics.New()
	pool := taskpool.New(
		taskpool.WithLogger(root),
		taskpool.WithTracer(tracer),
		taskpool.WithObserver(m),
		taskpool.WithGracePeriod(cfg.Shutdown.Timeout),
	)
	m.WatchPool(pool)

	a, err := start(ctx, cfg, root, pool, m)
	if err != nil {
		logger.Error("critical: startup failed", logging.Fields{"error": err.Error()})
		closePool(pool, cfg, logger)
		return 1
	}

	coord := shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout:  cfg.Shutdown.Deadline,
		PhaseTimeout:    cfg.Shutdown.PhaseTimeout,
		ContinueOnError: true,
		Logger:          root,
	})
	registerShutdown(coord, a, pool, provider, logger)
	coord.HandleSignals()
	defer coord.StopSignals()

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.Serve(a.listener) }()

	code := 0
	select {
	case <-coord.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", logging.Fields{"error": err.Error()})
			code = 1
		}
		_ = coord.ShutdownWithTimeout(cfg.Shutdown.Deadline)
	}

	if result := coord.Result(); result != nil && result.Failed() {
		for _, hr := range result.Results {
			if hr.Err != nil {
				logger.Warn("close failed", logging.Fields{"handler": hr.Name, "error": hr.Err.Error()})
			}
		}
	}
	logger.Info("jobmanager stopped")
	return code
}

// app holds what start brought up.
type app struct {
	bus      bus.MessageBus
	sender   *heartbeat.Sender
	server   *server
	listener net.Listener
}

// registerShutdown wires the shutdown order: stop taking requests, drain the
// pool, then release the bus and telemetry. The pool is required so that it
// is closed even when the HTTP phase overruns the deadline.
func registerShutdown(coord *shutdown.Coordinator, a *app, pool *taskpool.Pool, provider *telemetry.Provider, logger *logging.Logger) {
	coord.RegisterWithPhase("http-server", a.server, PhaseFrontend)
	coord.RegisterFuncWithPhase("heartbeat-draining", func(ctx context.Context) error {
		return a.sender.Announce(ctx, heartbeat.StatusDraining)
	}, PhaseFrontend)
	coord.RegisterRequired("taskpool", pool, PhaseTasks)
	coord.RegisterFuncWithPhase("bus", func(ctx context.Context) error {
		logger.Info("closing bus", logging.Fields{"heartbeats_sent": a.sender.Sent()})
		return a.bus.Close()
	}, PhaseBackend)
	if provider != nil {
		coord.RegisterWithPhase("telemetry", provider, PhaseBackend)
	}
}

// openBus is swapped in tests.
var openBus = newBus

// start binds the HTTP listener, connects the bus and launches the heartbeat
// poller. On error nothing it opened is left open; only the pool needs
// closing.
func start(ctx context.Context, cfg *config.Config, logger *logging.Logger, pool *taskpool.Pool, m *metrics.Metrics) (*app, error) {
	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return nil, err
	}

	b, err := openBus(cfg.Bus)
	if err != nil {
		ln.Close()
		return nil, err
	}

	capacity := float64(cfg.Heartbeat.Capacity)
	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Bus:      b,
		AgentID:  cfg.Heartbeat.AgentID,
		Interval: cfg.Heartbeat.Interval,
		Load:     func() float64 { return float64(pool.Pending()) / capacity },
		Logger:   logger,
	})
	if err != nil {
		ln.Close()
		b.Close()
		return nil, err
	}
	sender.SetMetadata("version", version)
	pool.GoBackground(ctx, "heartbeat", sender.Run)

	return &app{
		bus:      b,
		sender:   sender,
		server:   newServer(cfg.Server.Addr(), pool, m, cfg.Server.JobTimeout, logger),
		listener: ln,
	}, nil
}

func newBus(cfg config.BusConfig) (bus.MessageBus, error) {
	if cfg.URL == "" {
		return bus.NewMemoryBus(bus.Config{BufferSize: cfg.BufferSize}), nil
	}
	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = cfg.URL
	natsCfg.BufferSize = cfg.BufferSize
	return bus.NewNATSBus(natsCfg)
}

// initTelemetry returns a nil provider when no endpoint is configured.
func initTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	return telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Endpoint,
		Protocol:       cfg.Protocol,
		Insecure:       cfg.Insecure,
	})
}

// closePool drains only the pool. Errors are logged and never block exit.
func closePool(pool *taskpool.Pool, cfg *config.Config, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Deadline)
	defer cancel()
	if _, err := pool.Close(ctx, cfg.Shutdown.Timeout); err != nil {
		logger.Warn("close failed", logging.Fields{"handler": "taskpool", "error": err.Error()})
	}
}
