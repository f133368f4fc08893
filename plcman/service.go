package plcman

import (
	"fmt"
	"sync"
	"time"

	"modlink/config"
	"modlink/driver"
	"modlink/logging"
	"modlink/points"
)

// ConnectResult reports the outcome of a connect request.
type ConnectResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusInfo is the externally visible connection status.
type StatusInfo struct {
	Connected bool       `json:"connected"`
	IP        string     `json:"ip,omitempty"`
	Port      int        `json:"port"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// WriteCoilResult reports the outcome of a coil write.
type WriteCoilResult struct {
	Success bool   `json:"success"`
	Address uint16 `json:"address"`
	Value   bool   `json:"value"`
	Name    string `json:"name"`
}

// Service owns the controller connection on behalf of the API layer. It
// is constructed once at startup and passed to whoever needs it; there is
// no process-wide shared instance.
type Service struct {
	cfg *config.Config

	mu       sync.Mutex
	manager  *Manager
	host     string
	port     int
	lastSeen time.Time
}

// NewService creates a service with no connection. Call Connect or Attach
// before issuing reads.
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg, port: cfg.PLC.Port}
}

// Attach adopts an already-constructed client (typically from the
// factory at startup) without dialing.
func (s *Service) Attach(client driver.Client, host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		s.manager.Disconnect()
	}
	s.manager = NewManager(client, s.policy())
	s.host = host
	s.port = port
}

func (s *Service) policy() Policy {
	return Policy{
		RetryCount:      s.cfg.PLC.RetryCount,
		RetryDelay:      s.cfg.PLC.RetryDelay,
		AutoReconnect:   s.cfg.PLC.AutoReconnectEnabled(),
		MaxBackoffDelay: 30 * time.Second,
	}
}

// Connect builds a client for the configured kind at the given address,
// replacing and disconnecting any existing client, then dials through the
// connection manager. Failures are reported in the result, not as errors.
func (s *Service) Connect(host string, port int) ConnectResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		s.manager.Disconnect()
		s.manager = nil
	}

	plcCfg := s.cfg.PLC
	plcCfg.Host = host
	if port > 0 {
		plcCfg.Port = port
	}

	client, err := driver.Create(&plcCfg)
	if err != nil {
		logging.DebugError("plcman", "create client", err)
		return ConnectResult{Success: false, Message: err.Error()}
	}

	s.manager = NewManager(client, s.policy())
	s.host = host
	s.port = plcCfg.Port

	if !s.manager.EnsureConnected() {
		msg := fmt.Sprintf("failed to connect to %s:%d", host, s.port)
		if status := s.manager.Status(); status.LastError != "" {
			msg = fmt.Sprintf("%s: %s", msg, status.LastError)
		}
		logging.Info("plcman", "%s", msg)
		return ConnectResult{Success: false, Message: msg}
	}

	s.lastSeen = time.Now()
	logging.DebugLog("plcman", "connected to %s:%d", host, s.port)
	logging.Info("plcman", "connected to %s:%d", host, s.port)
	return ConnectResult{Success: true, Message: fmt.Sprintf("Connected to %s:%d", host, s.port)}
}

// Disconnect closes the current connection, if any.
func (s *Service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		s.manager.Disconnect()
		logging.Info("plcman", "disconnected from %s:%d", s.host, s.port)
	}
}

// IsConnected reports whether the service holds a live connection.
func (s *Service) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager != nil && s.manager.IsConnected()
}

// Status returns the current connection status.
func (s *Service) Status() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := StatusInfo{
		IP:   s.host,
		Port: s.port,
	}
	if s.manager != nil {
		info.Connected = s.manager.IsConnected()
	}
	if !s.lastSeen.IsZero() {
		seen := s.lastSeen
		info.LastSeen = &seen
	}
	return info
}

// ManagerStatus returns the retry-level health snapshot, or a zero status
// when no client is attached.
func (s *Service) ManagerStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return Status{}
	}
	return s.manager.Status()
}

// ReadAllIO reads every coil and register, grouped by address band.
// Fails with a connection error when no client is attached.
func (s *Service) ReadAllIO() (*points.IOSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return nil, driver.ConnectionErrorf("not connected")
	}

	var snap *points.IOSnapshot
	err := s.manager.ReadWithRetry(func() error {
		var readErr error
		snap, readErr = points.ReadIOSnapshot(s.manager.Client())
		return readErr
	})
	if err != nil {
		return nil, err
	}

	s.lastSeen = time.Now()
	return snap, nil
}

// ReadState reads the complete named controller state.
func (s *Service) ReadState() (*points.FactoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return nil, driver.ConnectionErrorf("not connected")
	}

	var state *points.FactoryState
	err := s.manager.ReadWithRetry(func() error {
		var readErr error
		state, readErr = points.ReadState(s.manager.Client(), s.cfg.PLC.Scene)
		return readErr
	})
	if err != nil {
		return nil, err
	}

	s.lastSeen = time.Now()
	return state, nil
}

// WriteCoil writes one coil after validating the address against the
// writable set. Validation happens before any network call.
func (s *Service) WriteCoil(address uint16, value bool) (WriteCoilResult, error) {
	if err := points.ValidateCoilWrite(address); err != nil {
		return WriteCoilResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return WriteCoilResult{}, driver.ConnectionErrorf("not connected")
	}

	err := s.manager.WriteWithRetry(func() (bool, error) {
		return s.manager.Client().WriteCoil(address, value)
	})
	if err != nil {
		return WriteCoilResult{}, err
	}

	s.lastSeen = time.Now()
	return WriteCoilResult{
		Success: true,
		Address: address,
		Value:   value,
		Name:    points.CoilName(address),
	}, nil
}

// WritePoint writes a named point through the retry layer, applying scale
// factors and writability checks.
func (s *Service) WritePoint(name string, value float64) error {
	// Validate before taking the lock or touching the network.
	if p, ok := points.Lookup(name); !ok {
		return driver.NotFoundErrorf("unknown point %q", name)
	} else if !p.Writable {
		return driver.ValidationErrorf("point %q is not writable", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return driver.ConnectionErrorf("not connected")
	}

	err := s.manager.WriteWithRetry(func() (bool, error) {
		return points.WriteByName(s.manager.Client(), name, value)
	})
	if err != nil {
		return err
	}

	s.lastSeen = time.Now()
	return nil
}

// Scene returns the configured scene label.
func (s *Service) Scene() string {
	return s.cfg.PLC.Scene
}
