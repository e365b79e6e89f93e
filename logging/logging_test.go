package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	return logger, &buf
}

func TestLogger_Levels(t *testing.T) {
	logger, buf := newBuffered(LevelInfo)

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug message should be filtered at INFO level")

	logger.Info("info message")
	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "info message")
}

func TestLogger_WithComponentSharesOutput(t *testing.T) {
	logger, buf := newBuffered(LevelInfo)
	child := logger.WithComponent("taskpool")

	child.Info("hello")
	assert.Contains(t, buf.String(), "[taskpool] hello")

	// Level changes on the parent reach the child.
	logger.SetLevel(LevelError)
	buf.Reset()
	child.Warn("dropped")
	assert.Zero(t, buf.Len())
}

func TestLogger_FieldsSorted(t *testing.T) {
	logger, buf := newBuffered(LevelInfo)
	logger.Info("drain", Fields{"b": 2, "a": 1})
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "drain a=1 b=2"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogger_TaskFinish(t *testing.T) {
	logger, buf := newBuffered(LevelDebug)

	logger.TaskFinish("t-1", "poll", "cancelled", time.Second, errors.New("context canceled"))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.NotContains(t, buf.String(), "error=")

	buf.Reset()
	logger.TaskFinish("t-2", "req", "failed", time.Millisecond, errors.New("boom"))
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestLogger_DrainPhase(t *testing.T) {
	logger, buf := newBuffered(LevelInfo)
	logger.DrainPhase(2, "grace", 3)
	assert.Contains(t, buf.String(), "drain_phase phase=2 step=grace tasks=3")
}

func TestLogger_Signal(t *testing.T) {
	logger, buf := newBuffered(LevelInfo)
	logger.Signal("SIGTERM")
	assert.Contains(t, buf.String(), "Received signal SIGTERM, initiating shutdown...")
}

func TestDiscard(t *testing.T) {
	// Must not panic or write anywhere.
	Discard().Error("nothing")
}
