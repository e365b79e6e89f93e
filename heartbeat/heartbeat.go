package heartbeat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vinayprograms/jobmanager/bus"
	"github.com/vinayprograms/jobmanager/logging"
)

// ErrInvalidConfig indicates invalid sender configuration.
var ErrInvalidConfig = errors.New("invalid heartbeat configuration")

// SubjectPrefix is the subject prefix for heartbeat messages.
const SubjectPrefix = "heartbeat."

// Status values carried in heartbeats.
const (
	StatusRunning  = "running"
	StatusDraining = "draining"
)

// Heartbeat is a single liveness message.
type Heartbeat struct {
	// AgentID identifies the sending process.
	AgentID string `json:"agent_id"`

	Timestamp time.Time `json:"timestamp"`

	// Status of the process ("running", "draining").
	Status string `json:"status"`

	// Load is a normalized load metric (0.0 to 1.0).
	Load float64 `json:"load"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// Trace carries the W3C trace context of the sending task, if any.
	Trace map[string]string `json:"trace,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Subject returns the subject for this heartbeat.
func (h *Heartbeat) Subject() string {
	return SubjectPrefix + h.AgentID
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// AgentID is the unique identifier for this process.
	AgentID string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// Load reports the current load, clamped to [0, 1] in each heartbeat.
	// Default: always 0.
	Load func() float64

	// Logger receives publish failures. Default: discard.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.AgentID == "" {
		return ErrInvalidConfig
	}
	if c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{Interval: 5 * time.Second}
}
