package push

import (
	"errors"
	"testing"
	"time"

	"modlink/plcman"
)

// fakeSink records published points and can be scripted to fail.
type fakeSink struct {
	name     string
	startErr error
	pubErr   error

	started   bool
	stopped   bool
	published []string
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSink) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeSink) PublishPoint(point string, value interface{}, ts time.Time) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, point)
	return nil
}

func changes(points ...string) []plcman.PointChange {
	out := make([]plcman.PointChange, len(points))
	now := time.Now()
	for i, p := range points {
		out[i] = plcman.PointChange{Point: p, Value: 1, Timestamp: now}
	}
	return out
}

func TestManagerFansOutToAllRunningSinks(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}

	m := NewManager()
	m.Register(a)
	m.Register(b)
	m.Start()
	defer m.Stop()

	m.HandleChanges(changes("motor_speed", "temperature"))

	for _, s := range []*fakeSink{a, b} {
		if len(s.published) != 2 {
			t.Errorf("sink %s got %v, want both points", s.name, s.published)
		}
	}
}

func TestManagerSkipsFailedStarts(t *testing.T) {
	dead := &fakeSink{name: "dead", startErr: errors.New("broker down")}
	live := &fakeSink{name: "live"}

	m := NewManager()
	m.Register(dead)
	m.Register(live)
	m.Start()
	defer m.Stop()

	m.HandleChanges(changes("e_stop"))

	if len(dead.published) != 0 {
		t.Error("a sink that failed to start must not receive changes")
	}
	if len(live.published) != 1 {
		t.Error("healthy sink should still receive changes")
	}

	infos := m.Info()
	for _, info := range infos {
		switch info.Name {
		case "dead":
			if info.Running {
				t.Error("dead sink should report not running")
			}
			if info.LastError == "" {
				t.Error("dead sink should report its start error")
			}
		case "live":
			if !info.Running || info.Published != 1 {
				t.Errorf("live sink info = %+v", info)
			}
		}
	}
}

func TestManagerCountsPublishErrors(t *testing.T) {
	flaky := &fakeSink{name: "flaky", pubErr: errors.New("write timeout")}

	m := NewManager()
	m.Register(flaky)
	m.Start()
	defer m.Stop()

	m.HandleChanges(changes("a", "b", "c"))

	infos := m.Info()
	if len(infos) != 1 {
		t.Fatalf("infos = %d", len(infos))
	}
	if infos[0].Errors != 3 || infos[0].Published != 0 {
		t.Errorf("info = %+v, want 3 errors and 0 published", infos[0])
	}
	if infos[0].LastError == "" {
		t.Error("last error should be recorded")
	}
}

// flappingSink starts cleanly but reports its connection as lost.
type flappingSink struct {
	fakeSink
	connected bool
}

func (f *flappingSink) IsRunning() bool { return f.connected }

func TestManagerInfoAsksSinksForLiveState(t *testing.T) {
	s := &flappingSink{fakeSink: fakeSink{name: "mqtt"}}

	m := NewManager()
	m.Register(s)
	m.Start()
	defer m.Stop()

	infos := m.Info()
	if len(infos) != 1 {
		t.Fatalf("infos = %d", len(infos))
	}
	if infos[0].Running {
		t.Error("sink that lost its connection should report not running")
	}

	s.connected = true
	if !m.Info()[0].Running {
		t.Error("reconnected sink should report running")
	}
}

func TestManagerStopStopsSinks(t *testing.T) {
	s := &fakeSink{name: "s"}
	m := NewManager()
	m.Register(s)
	m.Start()
	m.Stop()

	if !s.stopped {
		t.Error("Stop should reach the sink")
	}

	// Changes after Stop are dropped, not delivered.
	m.HandleChanges(changes("late"))
	if len(s.published) != 0 {
		t.Error("stopped sink must not receive changes")
	}
}

func TestManagerNoSinks(t *testing.T) {
	m := NewManager()
	m.Start()
	m.HandleChanges(changes("x"))
	m.Stop()
	if len(m.Info()) != 0 {
		t.Error("expected no sink info")
	}
}
