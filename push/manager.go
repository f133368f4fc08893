// Package push fans controller state changes out to the configured
// downstream sinks (MQTT, Valkey, Kafka). The poll loop hands changes to
// the manager; the manager never reads the controller itself.
package push

import (
	"sync"
	"time"

	"modlink/logging"
	"modlink/plcman"
)

// Sink is a downstream destination for point changes. All three
// publishers satisfy it.
type Sink interface {
	Name() string
	Start() error
	Stop() error
	PublishPoint(point string, value interface{}, ts time.Time) error
}

// SinkInfo summarizes one sink for status output.
type SinkInfo struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Published int64  `json:"published"`
	Errors    int64  `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

// sinkState pairs a sink with its delivery counters.
type sinkState struct {
	sink      Sink
	running   bool
	published int64
	errors    int64
	lastErr   error
}

// Manager owns the registered sinks and forwards every point change to
// each running one. Sink failures are counted, never propagated: a dead
// broker must not stall the poll loop.
type Manager struct {
	mu    sync.Mutex
	sinks []*sinkState
}

// NewManager creates an empty fan-out manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a sink. Sinks are started by Start, not on registration.
func (m *Manager) Register(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, &sinkState{sink: sink})
}

// Start starts every registered sink. A sink that fails to start is left
// stopped and its error recorded; the others still come up.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sinks {
		if err := s.sink.Start(); err != nil {
			s.lastErr = err
			logging.DebugError("push", "start "+s.sink.Name(), err)
			logging.Info("push", "sink %s failed to start: %v", s.sink.Name(), err)
			continue
		}
		s.running = true
		logging.DebugLog("push", "sink %s started", s.sink.Name())
		logging.Info("push", "sink %s started", s.sink.Name())
	}
}

// Stop stops every running sink.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sinks {
		if !s.running {
			continue
		}
		if err := s.sink.Stop(); err != nil {
			logging.DebugError("push", "stop "+s.sink.Name(), err)
		}
		s.running = false
	}
}

// HandleChanges forwards a batch of point changes to every running sink.
// Wire it to the poller's change callback.
func (m *Manager) HandleChanges(changes []plcman.PointChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sinks {
		if !s.running {
			continue
		}
		for _, c := range changes {
			if err := s.sink.PublishPoint(c.Point, c.Value, c.Timestamp); err != nil {
				s.errors++
				s.lastErr = err
				continue
			}
			s.published++
		}
	}
}

// Info returns a status summary per sink. Sinks that report their own
// connection state (all three publishers do) are asked live, so a broker
// that dropped out after a clean start shows as not running.
func (m *Manager) Info() []SinkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SinkInfo, 0, len(m.sinks))
	for _, s := range m.sinks {
		running := s.running
		if probe, ok := s.sink.(interface{ IsRunning() bool }); ok && running {
			running = probe.IsRunning()
		}
		info := SinkInfo{
			Name:      s.sink.Name(),
			Running:   running,
			Published: s.published,
			Errors:    s.errors,
		}
		if s.lastErr != nil {
			info.LastError = s.lastErr.Error()
		}
		infos = append(infos, info)
	}
	return infos
}
