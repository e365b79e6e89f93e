// Package logging provides levelled, key=value console logging for the
// coordinator and its host. Lifecycle helpers (tasks, drain phases, signals)
// keep the message names consistent between components.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Fields are key=value pairs attached to a log line.
type Fields map[string]interface{}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := levelPriority[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes structured lines to its output.
type Logger struct {
	sink      *sink
	component string
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		sink: &sink{output: os.Stdout, minLevel: LevelInfo},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{
		sink: &sink{output: io.Discard, minLevel: LevelError},
	}
}

// WithComponent returns a logger sharing this logger's output, tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as sorted key=value pairs.
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...Fields) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.output.Write([]byte(line))
}

// --- Lifecycle logging methods ---

// TaskStart logs a task being registered and started.
func (l *Logger) TaskStart(id, name, kind string) {
	l.Debug("task_start", Fields{
		"task": id,
		"name": name,
		"kind": kind,
	})
}

// TaskFinish logs a task leaving the pool.
func (l *Logger) TaskFinish(id, name, status string, duration time.Duration, err error) {
	fields := Fields{
		"task":     id,
		"name":     name,
		"status":   status,
		"duration": duration.String(),
	}
	if err != nil && status == "failed" {
		fields["error"] = err.Error()
		l.Warn("task_finish", fields)
		return
	}
	l.Debug("task_finish", fields)
}

// DrainPhase logs the start of a shutdown drain phase.
func (l *Logger) DrainPhase(phase int, name string, tasks int) {
	l.Info("drain_phase", Fields{
		"phase": phase,
		"step":  name,
		"tasks": tasks,
	})
}

// DrainComplete logs the end of a drain.
func (l *Logger) DrainComplete(duration time.Duration, completed, failed, cancelled int, graceExpired bool) {
	l.Info("drain_complete", Fields{
		"duration":      duration.String(),
		"completed":     completed,
		"failed":        failed,
		"cancelled":     cancelled,
		"grace_expired": graceExpired,
	})
}

// Signal logs receipt of an OS signal.
func (l *Logger) Signal(name string) {
	l.Info(fmt.Sprintf("Received signal %s, initiating shutdown...", name))
}
