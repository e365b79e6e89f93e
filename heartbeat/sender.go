package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/vinayprograms/jobmanager/bus"
	"github.com/vinayprograms/jobmanager/logging"
	"github.com/vinayprograms/jobmanager/telemetry"
)

// Sender publishes periodic heartbeats. Its Run method is a polling loop
// meant to be tracked as background work and cancelled at shutdown.
type Sender struct {
	bus      bus.MessageBus
	agentID  string
	interval time.Duration
	load     func() float64
	logger   *logging.Logger

	mu       sync.RWMutex
	status   string
	metadata map[string]string

	sent atomic.Int64
}

// NewSender creates a heartbeat sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSenderConfig().Interval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Sender{
		bus:      cfg.Bus,
		agentID:  cfg.AgentID,
		interval: cfg.Interval,
		load:     cfg.Load,
		logger:   logger.WithComponent("heartbeat"),
		status:   StatusRunning,
		metadata: make(map[string]string),
	}, nil
}

// Run sends a heartbeat immediately and then every interval until ctx is
// cancelled. It returns ctx's error. Publish failures are logged and do not
// stop the loop. Heartbeats carry the trace context of ctx.
func (s *Sender) Run(ctx context.Context) error {
	s.send(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.send(ctx)
		}
	}
}

// Announce sets status and publishes a heartbeat right away.
func (s *Sender) Announce(ctx context.Context, status string) error {
	s.SetStatus(status)
	return s.publish(ctx)
}

func (s *Sender) send(ctx context.Context) {
	if err := s.publish(ctx); err != nil {
		s.logger.Warn("heartbeat publish failed", logging.Fields{"error": err.Error()})
	}
}

func (s *Sender) publish(ctx context.Context) error {
	hb := s.build()
	carrier := propagation.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	if len(carrier) > 0 {
		hb.Trace = carrier
	}
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	if err := s.bus.Publish(hb.Subject(), data); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func (s *Sender) build() *Heartbeat {
	load := s.currentLoad()

	s.mu.RLock()
	defer s.mu.RUnlock()

	hb := &Heartbeat{
		AgentID:   s.agentID,
		Timestamp: time.Now(),
		Status:    s.status,
		Load:      load,
	}
	if len(s.metadata) > 0 {
		hb.Metadata = make(map[string]string, len(s.metadata))
		for k, v := range s.metadata {
			hb.Metadata[k] = v
		}
	}
	return hb
}

// SetStatus updates the status included in heartbeats.
func (s *Sender) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Sender) currentLoad() float64 {
	if s.load == nil {
		return 0
	}
	load := s.load()
	switch {
	case load < 0:
		return 0
	case load > 1:
		return 1
	}
	return load
}

// SetMetadata updates a metadata field.
func (s *Sender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Sent returns how many heartbeats were published successfully.
func (s *Sender) Sent() int64 {
	return s.sent.Load()
}
