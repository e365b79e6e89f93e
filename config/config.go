// Package config loads jobmanager settings from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
	"github.com/vinayprograms/jobmanager/logging"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = jmerrors.InvalidInput("invalid configuration")

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Shutdown  ShutdownConfig  `toml:"shutdown"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Bus       BusConfig       `toml:"bus"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// JobTimeout is the default bound on a job started over HTTP.
	JobTimeout time.Duration `toml:"job_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ShutdownConfig bounds the drain.
type ShutdownConfig struct {
	// Timeout is the grace period pending tasks get to finish.
	Timeout time.Duration `toml:"timeout"`

	// PhaseTimeout bounds each shutdown phase. Zero means unbounded.
	PhaseTimeout time.Duration `toml:"phase_timeout"`

	// Deadline bounds the whole shutdown.
	Deadline time.Duration `toml:"deadline"`
}

// HeartbeatConfig is the liveness poller.
type HeartbeatConfig struct {
	AgentID  string        `toml:"agent_id"`
	Interval time.Duration `toml:"interval"`

	// Capacity is the pending task count reported as full load.
	Capacity int `toml:"capacity"`
}

// BusConfig selects the message bus. An empty URL uses the in-memory bus.
type BusConfig struct {
	URL        string `toml:"url"`
	BufferSize int    `toml:"buffer_size"`
}

// TelemetryConfig is the OTLP trace exporter. An empty endpoint disables
// export.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000, JobTimeout: 10 * time.Second},
		Shutdown: ShutdownConfig{
			Timeout:  5 * time.Second,
			Deadline: 30 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			AgentID:  "jobmanager",
			Interval: 5 * time.Second,
			Capacity: 64,
		},
		Bus:       BusConfig{BufferSize: 256},
		Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "jobmanager"},
		Log:       LogConfig{Level: "info"},
	}
}

// StandardPaths returns the config file locations searched when no path is
// given, in order of priority.
func StandardPaths() []string {
	paths := []string{"jobmanager.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "jobmanager", "config.toml"))
	}
	return paths
}

// Load reads configuration from path. With an empty path the standard
// locations are searched and defaults are used if none exists; a named file
// that is missing is an error. Environment overrides are applied last. It
// returns the file actually read, if any.
func Load(path string) (*Config, string, error) {
	if path == "" {
		for _, p := range StandardPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, path, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// decodeFile overlays the file's values on cfg.
func (c *Config) decodeFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return jmerrors.Wrapf(err, "load config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return jmerrors.WrapWithCode(ErrInvalidConfig, jmerrors.ErrCodeInvalidInput,
			fmt.Sprintf("%s: unknown keys %s", path, strings.Join(keys, ", ")))
	}
	return nil
}

// applyEnv overrides file values with JOBMANAGER_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("JOBMANAGER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("JOBMANAGER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("JOBMANAGER_BUS_URL"); v != "" {
		c.Bus.URL = v
	}
	if v := os.Getenv("JOBMANAGER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" && c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = v
	}
}

// Validate rejects values the process cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return jmerrors.WrapWithCode(ErrInvalidConfig, jmerrors.ErrCodeInvalidInput, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.JobTimeout <= 0 {
		return invalid("server.job_timeout must be positive")
	}
	if c.Shutdown.Timeout < 0 {
		return invalid("shutdown.timeout must not be negative")
	}
	if c.Shutdown.PhaseTimeout < 0 {
		return invalid("shutdown.phase_timeout must not be negative")
	}
	if c.Shutdown.Deadline <= 0 {
		return invalid("shutdown.deadline must be positive")
	}
	if c.Heartbeat.AgentID == "" {
		return invalid("heartbeat.agent_id is required")
	}
	if c.Heartbeat.Interval <= 0 {
		return invalid("heartbeat.interval must be positive")
	}
	if c.Heartbeat.Capacity <= 0 {
		return invalid("heartbeat.capacity must be positive")
	}
	if c.Bus.BufferSize <= 0 {
		return invalid("bus.buffer_size must be positive")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return invalid("telemetry.protocol %q must be grpc or http", c.Telemetry.Protocol)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	return nil
}
