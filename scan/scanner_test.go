package scan

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

// fixtureProbe answers from a canned host table and records which
// addresses were probed.
type fixtureProbe struct {
	mu      sync.Mutex
	probed  []string
	results map[string]Result
}

func (f *fixtureProbe) probe(address string, port int, timeout time.Duration) Result {
	f.mu.Lock()
	f.probed = append(f.probed, address)
	f.mu.Unlock()

	if r, ok := f.results[address]; ok {
		r.Address = address
		r.Port = port
		return r
	}
	return Result{Address: address, Port: port, Status: StatusTimeout}
}

func TestScanProbesEveryAddress(t *testing.T) {
	fixture := &fixtureProbe{results: map[string]Result{
		"10.0.0.3": {Status: StatusOnline, LatencyMS: 12.5},
	}}

	s := NewScanner(0, 0, 0)
	s.SetProbe(fixture.probe)

	results, elapsed := s.Scan("10.0.0", 1, 5)
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	if elapsed <= 0 {
		t.Error("elapsed should be positive")
	}

	fixture.mu.Lock()
	probed := len(fixture.probed)
	fixture.mu.Unlock()
	if probed != 5 {
		t.Errorf("probed %d addresses, want 5", probed)
	}

	online := 0
	for _, r := range results {
		if r.Status == StatusOnline {
			online++
			if r.Address != "10.0.0.3" {
				t.Errorf("online host = %s, want 10.0.0.3", r.Address)
			}
		}
	}
	if online != 1 {
		t.Errorf("online = %d, want 1", online)
	}
}

func TestScanEmptyRange(t *testing.T) {
	s := NewScanner(0, 0, 0)
	s.SetProbe(func(string, int, time.Duration) Result {
		t.Error("probe must not run for an inverted range")
		return Result{}
	})
	results, elapsed := s.Scan("10.0.0", 10, 5)
	if results != nil || elapsed != 0 {
		t.Errorf("inverted range: results=%v elapsed=%v, want nil/0", results, elapsed)
	}
}

func TestScanSingleAddress(t *testing.T) {
	s := NewScanner(0, 0, 0)
	s.SetProbe(func(addr string, port int, _ time.Duration) Result {
		return Result{Address: addr, Port: port, Status: StatusRefused}
	})
	results, _ := s.Scan("192.168.1", 7, 7)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Address != "192.168.1.7" {
		t.Errorf("address = %s", results[0].Address)
	}
	if results[0].Status != StatusRefused {
		t.Errorf("status = %s", results[0].Status)
	}
}

func TestOnlineDevicesSortedByLatency(t *testing.T) {
	fixture := &fixtureProbe{results: map[string]Result{
		"10.0.0.2": {Status: StatusOnline, LatencyMS: 40.0},
		"10.0.0.4": {Status: StatusOnline, LatencyMS: 3.5},
		"10.0.0.6": {Status: StatusOnline, LatencyMS: 18.0},
		"10.0.0.8": {Status: StatusRefused},
	}}

	s := NewScanner(0, 0, 0)
	s.SetProbe(fixture.probe)

	devices, total, _ := s.OnlineDevices("10.0.0", 1, 10)
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
	if len(devices) != 3 {
		t.Fatalf("devices = %d, want 3", len(devices))
	}

	wantOrder := []string{"10.0.0.4", "10.0.0.6", "10.0.0.2"}
	for i, want := range wantOrder {
		if devices[i].Address != want {
			t.Errorf("devices[%d] = %s (%.1fms), want %s",
				i, devices[i].Address, devices[i].LatencyMS, want)
		}
	}
}

func TestScannerDefaults(t *testing.T) {
	s := NewScanner(0, 0, 0)
	if s.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", s.Timeout, DefaultTimeout)
	}
	if s.Port != DefaultPort {
		t.Errorf("port = %d, want %d", s.Port, DefaultPort)
	}
	if s.Workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", s.Workers, DefaultWorkers)
	}

	s = NewScanner(time.Second, 1502, 10)
	if s.Timeout != time.Second || s.Port != 1502 || s.Workers != 10 {
		t.Errorf("explicit settings lost: %+v", s)
	}
}

func TestScanBoundedConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)

	s := NewScanner(0, 0, 4)
	s.SetProbe(func(addr string, port int, _ time.Duration) Result {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return Result{Address: addr, Port: port, Status: StatusTimeout}
	})

	s.Scan("10.0.0", 1, 40)

	mu.Lock()
	defer mu.Unlock()
	if peak > 4 {
		t.Errorf("peak concurrency = %d, want <= 4 workers", peak)
	}
	if peak == 0 {
		t.Error("probe never ran")
	}
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutNetError{}}, StatusTimeout},
		{"deadline", os.ErrDeadlineExceeded, StatusTimeout},
		{"etimedout", syscall.ETIMEDOUT, StatusTimeout},
		{"host unreachable", syscall.EHOSTUNREACH, StatusTimeout},
		{"refused", syscall.ECONNREFUSED, StatusRefused},
		{"wrapped refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, StatusRefused},
		{"other", errors.New("no route to host table"), StatusError},
		{"dns", &net.OpError{Op: "dial", Err: fmt.Errorf("lookup failed")}, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyDialError(tt.err); got != tt.want {
				t.Errorf("classifyDialError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessageOnlyForErrors(t *testing.T) {
	if msg := errorMessage(syscall.ECONNREFUSED); msg != "" {
		t.Errorf("refused should carry no message, got %q", msg)
	}
	if msg := errorMessage(errors.New("weird failure")); msg == "" {
		t.Error("unclassified errors should carry their message")
	}
}

func TestDialProbeAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s := NewScanner(time.Second, port, 1)

	result := s.dialProbe("127.0.0.1", port, time.Second)
	if result.Status != StatusOnline {
		t.Fatalf("status = %s (%s), want online", result.Status, result.ErrorMessage)
	}
	if result.LatencyMS <= 0 {
		t.Errorf("latency = %v, want positive", result.LatencyMS)
	}
}
