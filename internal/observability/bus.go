package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrorEvent is one structured error kept for the status endpoint
type ErrorEvent struct {
	TS        time.Time `json:"ts"`
	Component string    `json:"component"`
	Event     string    `json:"event"`
	FixtureID int64     `json:"fixture_id,omitempty"`
	SignalID  int64     `json:"signal_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Bus fans structured events out to the log, the metric set and an in-memory
// ring of recent errors read by the status endpoint.
type Bus struct {
	logger  zerolog.Logger
	metrics *Metrics

	mu     sync.Mutex
	ring   []ErrorEvent
	next   int
	filled bool

	lastTick atomic.Value // time.Time
}

const ringSize = 50

// NewBus wires the bus to the root logger and metric set
func NewBus(logger zerolog.Logger, metrics *Metrics) *Bus {
	return &Bus{
		logger:  logger,
		metrics: metrics,
		ring:    make([]ErrorEvent, ringSize),
	}
}

// Logger returns a component-scoped sub-logger
func (b *Bus) Logger(component string) zerolog.Logger {
	return b.logger.With().Str("component", component).Logger()
}

// Metrics returns the shared metric set
func (b *Bus) Metrics() *Metrics {
	return b.metrics
}

// ReportError records a component failure: log line, error counter, ring entry
func (b *Bus) ReportError(component, event string, err error, fixtureID, signalID int64) {
	evt := ErrorEvent{
		TS:        time.Now().UTC(),
		Component: component,
		Event:     event,
		FixtureID: fixtureID,
		SignalID:  signalID,
	}
	if err != nil {
		evt.Error = err.Error()
	}

	log := b.logger.Error().Str("component", component).Str("event", event)
	if fixtureID != 0 {
		log = log.Int64("fixture_id", fixtureID)
	}
	if signalID != 0 {
		log = log.Int64("signal_id", signalID)
	}
	log.Err(err).Msg("component error")

	b.metrics.ComponentErrors.WithLabelValues(component).Inc()

	b.mu.Lock()
	b.ring[b.next] = evt
	b.next = (b.next + 1) % ringSize
	if b.next == 0 {
		b.filled = true
	}
	b.mu.Unlock()
}

// SetLastTick records the completion time of the latest scheduler tick
func (b *Bus) SetLastTick(t time.Time) {
	b.lastTick.Store(t)
}

// LastTick returns the completion time of the latest tick, zero if none yet
func (b *Bus) LastTick() time.Time {
	if v, ok := b.lastTick.Load().(time.Time); ok {
		return v
	}
	return time.Time{}
}

// RecentErrors returns the ring contents, oldest first
func (b *Bus) RecentErrors() []ErrorEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []ErrorEvent
	if b.filled {
		out = append(out, b.ring[b.next:]...)
	}
	out = append(out, b.ring[:b.next]...)
	// drop zero-valued slots from a partially filled ring
	events := make([]ErrorEvent, 0, len(out))
	for _, e := range out {
		if !e.TS.IsZero() {
			events = append(events, e)
		}
	}
	return events
}
