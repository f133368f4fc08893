package points

import (
	"time"

	"modlink/driver"
)

// FactoryState is a point-in-time snapshot of every named point. It is
// created fresh on each read and never mutated afterwards.
type FactoryState struct {
	MotorRunning bool    `json:"motor_running"`
	MotorSpeed   int     `json:"motor_speed"`
	MotorCurrent float64 `json:"motor_current"`

	Temperature float64 `json:"temperature"`
	Pressure    int     `json:"pressure"`

	FaultActive bool `json:"fault_active"`

	ConveyorSpeed   int  `json:"conveyor_speed"`
	ConveyorRunning bool `json:"conveyor_running"`

	Sensor1Active bool `json:"sensor_1_active"`
	Sensor2Active bool `json:"sensor_2_active"`

	EStopActive bool `json:"e_stop_active"`

	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Scene     string    `json:"scene"`
}

// Controller error codes and their operator-facing descriptions.
var errorCodes = map[int]string{
	0: "",
	1: "Motor overload",
	2: "Over temperature",
	3: "Low pressure",
	4: "Conveyor jam",
	5: "Emergency stop engaged",
}

// ErrorCodeText converts an error code to a human-readable message.
func ErrorCodeText(code int) string {
	if msg, ok := errorCodes[code]; ok {
		return msg
	}
	return "Unknown error"
}

// ReadState reads the complete controller state: one register block read,
// one coil block read, scale factors applied, error code interpreted.
func ReadState(c driver.Client, scene string) (*FactoryState, error) {
	registers, err := ReadAllRegisters(c)
	if err != nil {
		return nil, err
	}
	coils, err := ReadAllCoils(c)
	if err != nil {
		return nil, err
	}

	errorCode := int(registers["error_code"])
	errorMessage := ""
	if errorCode != 0 {
		errorMessage = ErrorCodeText(errorCode)
	}

	return &FactoryState{
		MotorRunning: coils["motor_running"],
		MotorSpeed:   int(registers["motor_speed"]),
		MotorCurrent: registers["motor_current"],

		Temperature: registers["temperature"],
		Pressure:    int(registers["pressure"]),

		FaultActive: coils["fault_alarm"],

		ConveyorSpeed:   int(registers["conveyor_speed"]),
		ConveyorRunning: coils["conveyor_running"],

		Sensor1Active: coils["sensor_1"],
		Sensor2Active: coils["sensor_2"],

		EStopActive: coils["e_stop"],

		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,

		Timestamp: time.Now(),
		Scene:     scene,
	}, nil
}

// IOSnapshot is the grouped I/O view consumed by the API layer: program
// coils, physical inputs, physical outputs, and raw register values.
type IOSnapshot struct {
	Coils     map[string]bool   `json:"coils"`
	Inputs    map[string]bool   `json:"inputs"`
	Outputs   map[string]bool   `json:"outputs"`
	Registers map[string]uint16 `json:"registers"`
	Timestamp time.Time         `json:"timestamp"`
}

// ReadIOSnapshot reads the full coil and register blocks and groups the
// coils by address band.
func ReadIOSnapshot(c driver.Client) (*IOSnapshot, error) {
	coils, err := c.ReadCoils(coilBlockStart, coilBlockCount)
	if err != nil {
		return nil, err
	}
	registers, err := c.ReadHoldingRegisters(registerBlockStart, registerBlockCount)
	if err != nil {
		return nil, err
	}

	snap := &IOSnapshot{
		Coils:     make(map[string]bool),
		Inputs:    make(map[string]bool),
		Outputs:   make(map[string]bool),
		Registers: make(map[string]uint16, registerBlockCount),
		Timestamp: time.Now(),
	}

	for i, value := range coils {
		addr := uint16(coilBlockStart + i)
		name := CoilName(addr)
		switch {
		case addr <= programCoilEnd:
			snap.Coils[name] = value
		case addr <= inputCoilEnd:
			snap.Inputs[name] = value
		default:
			snap.Outputs[name] = value
		}
	}

	for _, p := range registerTable {
		idx := int(p.Address) - registerBlockStart
		if idx >= 0 && idx < len(registers) {
			snap.Registers[p.Name] = registers[idx]
		}
	}

	return snap, nil
}
