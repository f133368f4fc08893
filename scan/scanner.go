// Package scan discovers Modbus TCP devices by probing an address range
// with a bounded worker pool. A probe is a pure liveness check: the
// connection is closed as soon as it is established, no application data
// is exchanged.
package scan

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"modlink/logging"
)

// Status classifies the outcome of a single probe.
type Status string

const (
	StatusOnline  Status = "online"
	StatusTimeout Status = "timeout"
	StatusRefused Status = "connection_refused"
	StatusError   Status = "error"
)

// Result is the outcome of probing one host. Results are never mutated
// after creation.
type Result struct {
	Address      string  `json:"ip"`
	Port         int     `json:"port"`
	Status       Status  `json:"status"`
	LatencyMS    float64 `json:"response_time_ms,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Device is the projection of an online Result published to callers.
type Device struct {
	Address   string  `json:"ip"`
	Port      int     `json:"port"`
	LatencyMS float64 `json:"response_time_ms"`
}

// ProbeFunc probes a single host:port and classifies the outcome.
// Replaceable for tests.
type ProbeFunc func(address string, port int, timeout time.Duration) Result

const (
	// DefaultWorkers caps concurrent probes so a large range cannot
	// exhaust ephemeral ports or flood the target subnet.
	DefaultWorkers = 50

	DefaultPort    = 502
	DefaultTimeout = 300 * time.Millisecond
)

// Scanner probes a subnet range for protocol-level reachability. Probes
// carry one timeout and zero retries: retrying individual hosts is the
// connection manager's job, not the scanner's.
type Scanner struct {
	Timeout time.Duration
	Port    int
	Workers int

	probe ProbeFunc
}

// NewScanner creates a scanner with the given settings; zero values fall
// back to the defaults above.
func NewScanner(timeout time.Duration, port, workers int) *Scanner {
	s := &Scanner{Timeout: timeout, Port: port, Workers: workers}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Port <= 0 {
		s.Port = DefaultPort
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	s.probe = s.dialProbe
	return s
}

// SetProbe replaces the probe implementation. Used by tests and by
// callers that want protocol-specific probing.
func (s *Scanner) SetProbe(probe ProbeFunc) {
	if probe != nil {
		s.probe = probe
	}
}

// Scan probes every address subnet.start through subnet.end and returns
// one result per host plus the elapsed wall time. Results arrive in
// completion order; callers must not assume address order. Individual
// host failures degrade that host's result, never the scan.
func (s *Scanner) Scan(subnet string, start, end int) ([]Result, time.Duration) {
	if start > end {
		return nil, 0
	}

	addresses := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		addresses = append(addresses, fmt.Sprintf("%s.%d", subnet, i))
	}

	logging.DebugLog("scan", "scanning %d addresses on %s.%d-%d:%d",
		len(addresses), subnet, start, end, s.Port)
	began := time.Now()

	var (
		results []Result
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, s.Workers)
	)

	for _, addr := range addresses {
		wg.Add(1)
		sem <- struct{}{}

		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.probe(addr, s.Port, s.Timeout)
			if result.Status == StatusOnline {
				logging.DebugLog("scan", "found device at %s:%d (%.2fms)",
					result.Address, result.Port, result.LatencyMS)
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(addr)
	}

	wg.Wait()
	elapsed := time.Since(began)

	online := 0
	for _, r := range results {
		if r.Status == StatusOnline {
			online++
		}
	}
	logging.DebugLog("scan", "scan complete: %d addresses in %s, %d online",
		len(results), elapsed.Round(time.Millisecond), online)

	return results, elapsed
}

// OnlineDevices scans the range and returns only the online hosts, sorted
// ascending by latency (fastest first), plus the total number of
// addresses probed and the scan duration.
func (s *Scanner) OnlineDevices(subnet string, start, end int) ([]Device, int, time.Duration) {
	results, elapsed := s.Scan(subnet, start, end)

	devices := make([]Device, 0)
	for _, r := range results {
		if r.Status == StatusOnline {
			devices = append(devices, Device{
				Address:   r.Address,
				Port:      r.Port,
				LatencyMS: r.LatencyMS,
			})
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LatencyMS < devices[j].LatencyMS
	})

	return devices, len(results), elapsed
}

// dialProbe is the default probe: one TCP dial with the configured
// timeout, classified by the native error kind rather than message text.
func (s *Scanner) dialProbe(address string, port int, timeout time.Duration) Result {
	target := fmt.Sprintf("%s:%d", address, port)
	began := time.Now()

	conn, err := net.DialTimeout("tcp", target, timeout)
	if err == nil {
		latency := float64(time.Since(began).Microseconds()) / 1000.0
		conn.Close()
		return Result{
			Address:   address,
			Port:      port,
			Status:    StatusOnline,
			LatencyMS: latency,
		}
	}

	return Result{
		Address:      address,
		Port:         port,
		Status:       classifyDialError(err),
		ErrorMessage: errorMessage(err),
	}
}

// classifyDialError maps a dial failure onto the three-way outcome split.
// Timeout-like conditions (deadline exceeded, EHOSTUNREACH from a silent
// host) fold into StatusTimeout.
func classifyDialError(err error) Status {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return StatusTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return StatusRefused
	}
	return StatusError
}

// errorMessage keeps messages only for the error outcome; timeout and
// refused speak for themselves.
func errorMessage(err error) string {
	if classifyDialError(err) == StatusError {
		return err.Error()
	}
	return ""
}
