package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

// Sink receives committed events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, evts []VaultEvent) error
}

// Dispatcher fans committed events out to every registered sink. A failing
// sink is logged and skipped; it never affects the tick that produced the
// events.
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   []Sink
	logger  *logger.Logger
	metrics *metrics.Collector
}

// NewDispatcher creates a dispatcher with the given sinks.
func NewDispatcher(log *logger.Logger, m *metrics.Collector, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: log, metrics: m}
}

// Register adds a sink.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Publish delivers evts to all sinks in registration order.
func (d *Dispatcher) Publish(ctx context.Context, evts []VaultEvent) {
	if len(evts) == 0 {
		return
	}
	if d.metrics != nil {
		for _, e := range evts {
			d.metrics.RecordEvent(string(e.Type))
		}
	}
	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, evts); err != nil {
			d.logger.Warn("event sink failed",
				zap.String("sink", s.Name()),
				zap.String("vault_id", evts[0].VaultID),
				zap.Int("events", len(evts)),
				zap.Error(err))
		}
	}
}

// MemorySink keeps every published event. Used by tests and the soak harness.
type MemorySink struct {
	mu     sync.Mutex
	events []VaultEvent
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Publish(_ context.Context, evts []VaultEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evts...)
	return nil
}

// Events returns a copy of everything received so far.
func (m *MemorySink) Events() []VaultEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]VaultEvent(nil), m.events...)
}

// OfType filters received events by type.
func (m *MemorySink) OfType(t EventType) []VaultEvent {
	var out []VaultEvent
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
