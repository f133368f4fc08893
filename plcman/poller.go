package plcman

import (
	"context"
	"sync"
	"time"

	"modlink/logging"
	"modlink/points"
)

// PointChange represents one named point whose value changed between two
// consecutive polls.
type PointChange struct {
	Point     string
	Value     interface{}
	Timestamp time.Time
}

// Poller reads the controller state through a Service at a fixed rate and
// reports changes. It runs in its own goroutine; Stop is synchronous.
type Poller struct {
	service  *Service
	interval time.Duration

	onState  func(*points.FactoryState)
	onChange func([]PointChange)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	last    *points.FactoryState
	failing bool
}

// NewPoller creates a poller for the given service. Either callback may
// be nil.
func NewPoller(service *Service, interval time.Duration, onState func(*points.FactoryState), onChange func([]PointChange)) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		service:  service,
		interval: interval,
		onState:  onState,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the poll loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop halts the poller and waits for the loop to finish.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// LastState returns the most recent snapshot, or nil before the first
// successful poll.
func (p *Poller) LastState() *points.FactoryState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	state, err := p.service.ReadState()
	if err != nil {
		// The service's manager already absorbed the retry budget; one
		// failed poll is not fatal, the next tick tries again. Only the
		// transition into failure goes to the operational log so a flaky
		// link doesn't flood it.
		logging.DebugError("plcman", "poll", err)
		p.mu.Lock()
		wasFailing := p.failing
		p.failing = true
		p.mu.Unlock()
		if !wasFailing {
			logging.Info("plcman", "poll failed: %v", err)
		}
		return
	}

	p.mu.Lock()
	prev := p.last
	p.last = state
	wasFailing := p.failing
	p.failing = false
	p.mu.Unlock()

	if wasFailing {
		logging.Info("plcman", "poll recovered")
	}

	if p.onState != nil {
		p.onState(state)
	}

	if p.onChange != nil {
		if changes := diffStates(prev, state); len(changes) > 0 {
			p.onChange(changes)
		}
	}
}

// diffStates compares two snapshots point by point. A nil previous
// snapshot reports every point as changed so subscribers get a full
// initial publish.
func diffStates(prev, cur *points.FactoryState) []PointChange {
	type field struct {
		name  string
		value func(*points.FactoryState) interface{}
	}

	fields := []field{
		{"motor_running", func(s *points.FactoryState) interface{} { return s.MotorRunning }},
		{"motor_speed", func(s *points.FactoryState) interface{} { return s.MotorSpeed }},
		{"motor_current", func(s *points.FactoryState) interface{} { return s.MotorCurrent }},
		{"temperature", func(s *points.FactoryState) interface{} { return s.Temperature }},
		{"pressure", func(s *points.FactoryState) interface{} { return s.Pressure }},
		{"fault_alarm", func(s *points.FactoryState) interface{} { return s.FaultActive }},
		{"conveyor_speed", func(s *points.FactoryState) interface{} { return s.ConveyorSpeed }},
		{"conveyor_running", func(s *points.FactoryState) interface{} { return s.ConveyorRunning }},
		{"sensor_1", func(s *points.FactoryState) interface{} { return s.Sensor1Active }},
		{"sensor_2", func(s *points.FactoryState) interface{} { return s.Sensor2Active }},
		{"e_stop", func(s *points.FactoryState) interface{} { return s.EStopActive }},
		{"error_code", func(s *points.FactoryState) interface{} { return s.ErrorCode }},
	}

	var changes []PointChange
	for _, f := range fields {
		value := f.value(cur)
		if prev == nil || f.value(prev) != value {
			changes = append(changes, PointChange{
				Point:     f.name,
				Value:     value,
				Timestamp: cur.Timestamp,
			})
		}
	}
	return changes
}
