package driver

import (
	"math/rand"
	"sync"

	"modlink/logging"
)

// Register and coil addresses simulated by SimClient, matching the
// controller program layout.
const (
	simRegMotorSpeed    = 100
	simRegMotorCurrent  = 101
	simRegTemperature   = 102
	simRegPressure      = 103
	simRegConveyorSpeed = 104
	simRegErrorCode     = 105

	simCoilMotorRunning    = 0
	simCoilMotorStopped    = 1
	simCoilFaultAlarm      = 2
	simCoilConveyorRunning = 3
	simCoilSensor1         = 4
	simCoilSensor2         = 5
	simCoilEStop           = 6
)

// Raw values are stored before scale factors: temperature and current are
// tenths (250 = 25.0 degrees C).
const (
	simAmbientTemp = 250
	simMaxTemp     = 800
)

// SimClient is a simulated controller. It never fails to connect and keeps
// an in-memory register/coil store that behaves like a running machine:
// current tracks motor speed, temperature climbs while the motor runs and
// cools back to ambient when it stops, and conveyor sensors flicker as
// simulated parts pass by. It is a drop-in replacement for the real client
// in integration tests and demos.
type SimClient struct {
	mu        sync.Mutex
	connected bool
	registers map[uint16]uint16
	coils     map[uint16]bool
	rng       *rand.Rand
	scene     string
}

// SimOption adjusts the initial state of a SimClient.
type SimOption func(*SimClient)

// WithScene sets the scene/context label reported by the simulator.
func WithScene(name string) SimOption {
	return func(s *SimClient) {
		if name != "" {
			s.scene = name
		}
	}
}

// WithInitialRegister overrides a register's startup value.
func WithInitialRegister(address, value uint16) SimOption {
	return func(s *SimClient) { s.registers[address] = value }
}

// WithInitialCoil overrides a coil's startup value.
func WithInitialCoil(address uint16, value bool) SimOption {
	return func(s *SimClient) { s.coils[address] = value }
}

// WithRandSeed makes the simulation's jitter deterministic.
func WithRandSeed(seed int64) SimOption {
	return func(s *SimClient) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewSimClient creates a simulated controller in a plausible startup
// state: motor stopped, ambient temperature, zero current.
func NewSimClient(opts ...SimOption) *SimClient {
	s := &SimClient{
		registers: map[uint16]uint16{
			simRegMotorSpeed:    0,
			simRegMotorCurrent:  0,
			simRegTemperature:   simAmbientTemp,
			simRegPressure:      100,
			simRegConveyorSpeed: 0,
			simRegErrorCode:     0,
		},
		coils: map[uint16]bool{
			simCoilMotorRunning:    false,
			simCoilMotorStopped:    true,
			simCoilFaultAlarm:      false,
			simCoilConveyorRunning: false,
			simCoilSensor1:         false,
			simCoilSensor2:         false,
			simCoilEStop:           false,
		},
		rng:   rand.New(rand.NewSource(rand.Int63())),
		scene: "sorting_station",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scene returns the simulator's scene label.
func (s *SimClient) Scene() string {
	return s.scene
}

// Connect always succeeds for the simulator.
func (s *SimClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	logging.DebugLog("sim", "connected (scene=%s)", s.scene)
	return nil
}

// Disconnect marks the simulator disconnected. Safe to call repeatedly.
func (s *SimClient) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// IsConnected reports the simulated connection state.
func (s *SimClient) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ReadHoldingRegisters reads simulated registers. Each read advances the
// simulation one step.
func (s *SimClient) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ConnectionErrorf("simulator is not connected")
	}
	s.step()

	values := make([]uint16, count)
	for i := range values {
		values[i] = s.registers[address+uint16(i)]
	}
	return values, nil
}

// ReadCoils reads simulated coils.
func (s *SimClient) ReadCoils(address, count uint16) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ConnectionErrorf("simulator is not connected")
	}

	values := make([]bool, count)
	for i := range values {
		values[i] = s.coils[address+uint16(i)]
	}
	return values, nil
}

// WriteRegister writes a simulated register and keeps the motor coils
// consistent: speed zero implies motor stopped.
func (s *SimClient) WriteRegister(address, value uint16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, ConnectionErrorf("simulator is not connected")
	}

	s.registers[address] = value
	if address == simRegMotorSpeed {
		s.coils[simCoilMotorStopped] = value == 0
	}
	return true, nil
}

// WriteCoil writes a simulated coil. The motor_running and motor_stopped
// coils are always complementary; stopping the motor zeroes speed and
// current.
func (s *SimClient) WriteCoil(address uint16, value bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false, ConnectionErrorf("simulator is not connected")
	}

	s.coils[address] = value
	switch address {
	case simCoilMotorRunning:
		s.coils[simCoilMotorStopped] = !value
		if !value {
			s.registers[simRegMotorSpeed] = 0
			s.registers[simRegMotorCurrent] = 0
		}
	case simCoilMotorStopped:
		s.coils[simCoilMotorRunning] = !value
	}
	return true, nil
}

// step advances the machine simulation. Must be called with s.mu held.
func (s *SimClient) step() {
	motorRunning := s.coils[simCoilMotorRunning]
	speed := s.registers[simRegMotorSpeed]
	temp := s.registers[simRegTemperature]

	if motorRunning && speed > 0 {
		// Current tracks 0.5 A per percent speed, with noise. Raw values
		// are tenths of an amp.
		base := int(speed) * 5
		noise := s.rng.Intn(11) - 5
		current := base + noise
		if current < 0 {
			current = 0
		}
		s.registers[simRegMotorCurrent] = uint16(current)

		if temp < simMaxTemp {
			next := int(temp) + 1 + s.rng.Intn(3)
			if next > simMaxTemp {
				next = simMaxTemp
			}
			s.registers[simRegTemperature] = uint16(next)
		}
	} else if temp > simAmbientTemp {
		next := int(temp) - 1 - s.rng.Intn(5)
		if next < simAmbientTemp {
			next = simAmbientTemp
		}
		s.registers[simRegTemperature] = uint16(next)
	}

	// Parts moving past the sensors while the conveyor runs.
	if s.coils[simCoilConveyorRunning] {
		if s.rng.Float64() < 0.1 {
			s.coils[simCoilSensor1] = s.rng.Intn(2) == 0
		}
		if s.rng.Float64() < 0.1 {
			s.coils[simCoilSensor2] = s.rng.Intn(2) == 0
		}
	}
}

// StartMotor starts the motor at the given speed percentage (clamped to
// 0-100).
func (s *SimClient) StartMotor(speed int) error {
	if speed < 0 {
		speed = 0
	}
	if speed > 100 {
		speed = 100
	}
	if _, err := s.WriteCoil(simCoilMotorRunning, true); err != nil {
		return err
	}
	_, err := s.WriteRegister(simRegMotorSpeed, uint16(speed))
	return err
}

// StopMotor stops the motor.
func (s *SimClient) StopMotor() error {
	_, err := s.WriteCoil(simCoilMotorRunning, false)
	return err
}

// StartConveyor starts the conveyor at the given speed percentage.
func (s *SimClient) StartConveyor(speed int) error {
	if speed < 0 {
		speed = 0
	}
	if speed > 100 {
		speed = 100
	}
	if _, err := s.WriteCoil(simCoilConveyorRunning, true); err != nil {
		return err
	}
	_, err := s.WriteRegister(simRegConveyorSpeed, uint16(speed))
	return err
}

// StopConveyor stops the conveyor and zeroes its speed.
func (s *SimClient) StopConveyor() error {
	if _, err := s.WriteCoil(simCoilConveyorRunning, false); err != nil {
		return err
	}
	_, err := s.WriteRegister(simRegConveyorSpeed, 0)
	return err
}

// TriggerError sets the error code and raises the fault alarm for any
// non-zero code.
func (s *SimClient) TriggerError(code uint16) error {
	if _, err := s.WriteRegister(simRegErrorCode, code); err != nil {
		return err
	}
	_, err := s.WriteCoil(simCoilFaultAlarm, code > 0)
	return err
}

// ClearError clears any active error condition.
func (s *SimClient) ClearError() error {
	return s.TriggerError(0)
}

// TriggerEStop engages the emergency stop and halts the motor and
// conveyor.
func (s *SimClient) TriggerEStop() error {
	if _, err := s.WriteCoil(simCoilEStop, true); err != nil {
		return err
	}
	if err := s.StopMotor(); err != nil {
		return err
	}
	return s.StopConveyor()
}

// ReleaseEStop releases the emergency stop.
func (s *SimClient) ReleaseEStop() error {
	_, err := s.WriteCoil(simCoilEStop, false)
	return err
}
