// Package plcman provides resilient connection management for a protocol
// client: automatic reconnection, retry with exponential backoff, and
// connection state tracking.
package plcman

import (
	"time"

	"modlink/driver"
	"modlink/logging"
)

// Policy is the immutable retry configuration for a Manager.
type Policy struct {
	// RetryCount is the attempt budget per logical operation. Connection
	// attempts and operation attempts share this budget.
	RetryCount int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// MaxBackoffDelay caps the computed backoff.
	MaxBackoffDelay time.Duration

	// AutoReconnect controls whether EnsureConnected dials at all when the
	// client reports disconnected.
	AutoReconnect bool
}

// DefaultPolicy returns the production defaults: 3 attempts, 1s base
// delay, 30s backoff cap, auto-reconnect on.
func DefaultPolicy() Policy {
	return Policy{
		RetryCount:      3,
		RetryDelay:      time.Second,
		MaxBackoffDelay: 30 * time.Second,
		AutoReconnect:   true,
	}
}

func (p Policy) normalized() Policy {
	if p.RetryCount <= 0 {
		p.RetryCount = 3
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = time.Second
	}
	if p.MaxBackoffDelay <= 0 {
		p.MaxBackoffDelay = 30 * time.Second
	}
	return p
}

// Status is a read-only snapshot of the manager for health reporting.
// It must not be used for control decisions; the manager re-checks the
// wrapped client on every operation.
type Status struct {
	Connected           bool          `json:"connected"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	AutoReconnect       bool          `json:"auto_reconnect"`
	RetryCount          int           `json:"retry_count"`
	RetryDelay          time.Duration `json:"retry_delay"`
}

// Manager wraps a driver.Client with reconnect/retry behavior. It is
// single-writer: one logical poller or caller at a time. Concurrent
// callers must serialize access externally because the underlying
// transport carries one transaction at a time.
type Manager struct {
	client driver.Client
	policy Policy

	connected           bool
	consecutiveFailures int
	lastError           error
}

// NewManager wraps a client with the given retry policy.
func NewManager(client driver.Client, policy Policy) *Manager {
	return &Manager{
		client: client,
		policy: policy.normalized(),
	}
}

// Client returns the wrapped protocol client.
func (m *Manager) Client() driver.Client {
	return m.client
}

// Policy returns the manager's retry policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// IsConnected re-checks the wrapped client rather than trusting the
// manager's own belief.
func (m *Manager) IsConnected() bool {
	return m.connected && m.client.IsConnected()
}

// backoff computes the delay before the next attempt:
// min(RetryDelay * 2^min(consecutiveFailures, 5), MaxBackoffDelay).
func (m *Manager) backoff() time.Duration {
	shift := m.consecutiveFailures
	if shift > 5 {
		shift = 5
	}
	delay := m.policy.RetryDelay * time.Duration(1<<uint(shift))
	if delay > m.policy.MaxBackoffDelay {
		delay = m.policy.MaxBackoffDelay
	}
	return delay
}

// EnsureConnected establishes the connection if it is not already live.
// It returns false instead of an error: connecting is a probe, not an
// operation, and exhausting the attempt budget leaves the manager
// disconnected with the cause recorded in Status.
func (m *Manager) EnsureConnected() bool {
	if m.client.IsConnected() {
		m.connected = true
		return true
	}

	if !m.policy.AutoReconnect {
		return false
	}

	for attempt := 0; attempt < m.policy.RetryCount; attempt++ {
		logging.DebugLog("plcman", "connection attempt %d/%d", attempt+1, m.policy.RetryCount)

		err := m.client.Connect()
		if err == nil {
			m.connected = true
			m.consecutiveFailures = 0
			m.lastError = nil
			logging.DebugLog("plcman", "connection established")
			return true
		}

		m.lastError = err
		m.consecutiveFailures++
		logging.DebugLog("plcman", "connection attempt %d failed: %v", attempt+1, err)

		if attempt < m.policy.RetryCount-1 {
			time.Sleep(m.backoff())
		}
	}

	m.connected = false
	logging.DebugLog("plcman", "failed to connect after %d attempts", m.policy.RetryCount)
	return false
}

// Disconnect closes the wrapped client, swallowing disconnect errors so
// that cleanup on an error path never masks the original failure.
func (m *Manager) Disconnect() {
	if err := m.client.Disconnect(); err != nil {
		logging.DebugLog("plcman", "error during disconnect: %v", err)
	}
	m.connected = false
}

// ReadWithRetry executes a read operation against the wrapped client with
// automatic reconnection and retry. The closure should capture its result.
//
// Connectivity failures mark the manager disconnected and force a
// reconnect on the next attempt; transaction failures retry in place on
// the live session. Any other error (validation, unknown name) is
// returned immediately without consuming the budget.
func (m *Manager) ReadWithRetry(op func() error) error {
	return m.retry(func() error {
		return op()
	})
}

// WriteWithRetry executes a write operation with the same protocol as
// ReadWithRetry. A write that reports rejection (false) without an error
// is treated as a retryable transaction failure: some protocol stacks
// signal rejection this way rather than erroring.
func (m *Manager) WriteWithRetry(op func() (bool, error)) error {
	return m.retry(func() error {
		ok, err := op()
		if err != nil {
			return err
		}
		if !ok {
			return driver.IOErrorf("write returned false")
		}
		return nil
	})
}

func (m *Manager) retry(op func() error) error {
	var lastErr error

	for attempt := 0; attempt < m.policy.RetryCount; attempt++ {
		var err error
		if !m.EnsureConnected() {
			err = driver.ConnectionErrorf("unable to connect")
		} else {
			err = op()
		}

		if err == nil {
			m.consecutiveFailures = 0
			return nil
		}

		switch {
		case driver.IsConnectionError(err):
			// Transport is assumed dead; next attempt reconnects.
			m.connected = false
			m.consecutiveFailures++
			m.lastError = err
			lastErr = err
			if attempt < m.policy.RetryCount-1 {
				delay := m.backoff()
				logging.DebugLog("plcman", "connection lost, retrying in %s (attempt %d/%d)",
					delay, attempt+1, m.policy.RetryCount)
				time.Sleep(delay)
			}

		case driver.IsIOError(err):
			// Transaction failed on a live session; retry without tearing
			// the session down.
			m.consecutiveFailures++
			m.lastError = err
			lastErr = err
			if attempt < m.policy.RetryCount-1 {
				delay := m.backoff()
				logging.DebugLog("plcman", "operation error: %v, retrying in %s (attempt %d/%d)",
					err, delay, attempt+1, m.policy.RetryCount)
				time.Sleep(delay)
			}

		default:
			// Not retryable.
			return err
		}
	}

	return lastErr
}

// Status returns a snapshot of the manager's state.
func (m *Manager) Status() Status {
	status := Status{
		Connected:           m.IsConnected(),
		ConsecutiveFailures: m.consecutiveFailures,
		AutoReconnect:       m.policy.AutoReconnect,
		RetryCount:          m.policy.RetryCount,
		RetryDelay:          m.policy.RetryDelay,
	}
	if m.lastError != nil {
		status.LastError = m.lastError.Error()
	}
	return status
}

// WithConnection runs fn inside a connect/disconnect scope. The client is
// disconnected on every exit path, including when fn returns an error.
func (m *Manager) WithConnection(fn func(driver.Client) error) error {
	defer m.Disconnect()

	if !m.EnsureConnected() {
		return driver.ConnectionErrorf("unable to connect")
	}
	return fn(m.client)
}
