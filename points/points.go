// Package points maps symbolic point names to controller addresses and
// provides scaled, validated read/write access over any protocol client.
package points

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"modlink/driver"
)

// Kind distinguishes single-bit coils from holding registers.
type Kind int

const (
	Coil Kind = iota
	Register
)

func (k Kind) String() string {
	if k == Coil {
		return "coil"
	}
	return "register"
}

// Point describes one named, addressable value on the controller. Points
// are immutable; the tables below are built once at startup.
type Point struct {
	Name     string
	Address  uint16
	Kind     Kind
	Writable bool
	Scale    float64 // Raw value is divided by Scale on read.
}

// Holding register block: addresses 100-105, matching the controller
// program. Current and temperature are stored in tenths.
var registerTable = []Point{
	{Name: "motor_speed", Address: 100, Kind: Register, Writable: true, Scale: 1},
	{Name: "motor_current", Address: 101, Kind: Register, Writable: true, Scale: 10},
	{Name: "temperature", Address: 102, Kind: Register, Writable: true, Scale: 10},
	{Name: "pressure", Address: 103, Kind: Register, Writable: true, Scale: 1},
	{Name: "conveyor_speed", Address: 104, Kind: Register, Writable: true, Scale: 1},
	{Name: "error_code", Address: 105, Kind: Register, Writable: true, Scale: 1},
}

// Coil block: program variables at 0-6, physical inputs DI_00-DI_07 at
// 7-14, physical outputs at 15-17. Only program variables and outputs are
// writable.
var coilTable = []Point{
	{Name: "motor_running", Address: 0, Kind: Coil, Writable: true, Scale: 1},
	{Name: "motor_stopped", Address: 1, Kind: Coil, Writable: true, Scale: 1},
	{Name: "fault_alarm", Address: 2, Kind: Coil, Writable: true, Scale: 1},
	{Name: "conveyor_running", Address: 3, Kind: Coil, Writable: true, Scale: 1},
	{Name: "sensor_1", Address: 4, Kind: Coil, Writable: true, Scale: 1},
	{Name: "sensor_2", Address: 5, Kind: Coil, Writable: true, Scale: 1},
	{Name: "e_stop", Address: 6, Kind: Coil, Writable: true, Scale: 1},
	{Name: "DI_00", Address: 7, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_01", Address: 8, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_02", Address: 9, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_03", Address: 10, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_04", Address: 11, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_05", Address: 12, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_06", Address: 13, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DI_07", Address: 14, Kind: Coil, Writable: false, Scale: 1},
	{Name: "DO_00", Address: 15, Kind: Coil, Writable: true, Scale: 1},
	{Name: "DO_01", Address: 16, Kind: Coil, Writable: true, Scale: 1},
	{Name: "DO_03", Address: 17, Kind: Coil, Writable: true, Scale: 1},
}

// Address bands for the grouped I/O snapshot.
const (
	coilBlockStart     = 0
	coilBlockCount     = 18
	programCoilEnd     = 6  // 0-6 are program variables
	inputCoilEnd       = 14 // 7-14 are physical inputs
	registerBlockStart = 100
	registerBlockCount = 6
)

var (
	byName        map[string]Point
	coilByAddress map[uint16]Point
	writableCoils []uint16
)

func init() {
	byName = make(map[string]Point, len(registerTable)+len(coilTable))
	coilByAddress = make(map[uint16]Point, len(coilTable))
	for _, p := range registerTable {
		byName[p.Name] = p
	}
	for _, p := range coilTable {
		byName[p.Name] = p
		coilByAddress[p.Address] = p
		if p.Writable {
			writableCoils = append(writableCoils, p.Address)
		}
	}
	sort.Slice(writableCoils, func(i, j int) bool { return writableCoils[i] < writableCoils[j] })
}

// Lookup returns the point for a symbolic name.
func Lookup(name string) (Point, bool) {
	p, ok := byName[name]
	return p, ok
}

// CoilName returns the symbolic name for a coil address, or a generated
// "coil_N" placeholder for addresses outside the table.
func CoilName(address uint16) string {
	if p, ok := coilByAddress[address]; ok {
		return p.Name
	}
	return fmt.Sprintf("coil_%d", address)
}

// WritableCoils returns the writable coil addresses in ascending order.
func WritableCoils() []uint16 {
	return append([]uint16(nil), writableCoils...)
}

// IsWritableCoil reports whether a coil address may be written.
func IsWritableCoil(address uint16) bool {
	p, ok := coilByAddress[address]
	return ok && p.Writable
}

func writableSetString() string {
	parts := make([]string, len(writableCoils))
	for i, a := range writableCoils {
		parts[i] = fmt.Sprintf("%d", a)
	}
	return strings.Join(parts, ", ")
}

// ValidateCoilWrite checks a coil address against the writable set without
// touching the network. The returned error names the attempted address and
// lists the writable set.
func ValidateCoilWrite(address uint16) error {
	if !IsWritableCoil(address) {
		return driver.ValidationErrorf("coil address %d is not writable (writable: %s)",
			address, writableSetString())
	}
	return nil
}

// ReadByName reads one named point and applies its scale factor. Coils
// read as 0 or 1.
func ReadByName(c driver.Client, name string) (float64, error) {
	p, ok := byName[name]
	if !ok {
		return 0, driver.NotFoundErrorf("unknown point %q", name)
	}

	switch p.Kind {
	case Coil:
		values, err := c.ReadCoils(p.Address, 1)
		if err != nil {
			return 0, err
		}
		if len(values) == 0 {
			return 0, driver.IOErrorf("read %s: empty response", p.Name)
		}
		if values[0] {
			return 1, nil
		}
		return 0, nil
	default:
		values, err := c.ReadHoldingRegisters(p.Address, 1)
		if err != nil {
			return 0, err
		}
		if len(values) == 0 {
			return 0, driver.IOErrorf("read %s: empty response", p.Name)
		}
		return float64(values[0]) / p.Scale, nil
	}
}

// WriteByName writes one named point, applying the inverse scale factor.
// Writes to non-writable points fail with a validation error before any
// network call; unknown names fail with a not-found error.
func WriteByName(c driver.Client, name string, value float64) (bool, error) {
	p, ok := byName[name]
	if !ok {
		return false, driver.NotFoundErrorf("unknown point %q", name)
	}
	if !p.Writable {
		return false, driver.ValidationErrorf("%s address %d (%s) is not writable (writable coils: %s)",
			p.Kind, p.Address, p.Name, writableSetString())
	}

	switch p.Kind {
	case Coil:
		return c.WriteCoil(p.Address, value != 0)
	default:
		raw := math.Round(value * p.Scale)
		if raw < 0 || raw > math.MaxUint16 {
			return false, driver.ValidationErrorf("value %v out of range for register %s", value, p.Name)
		}
		return c.WriteRegister(p.Address, uint16(raw))
	}
}

// ReadAllRegisters reads the full register block in one transaction and
// returns the named, scaled values.
func ReadAllRegisters(c driver.Client) (map[string]float64, error) {
	raw, err := c.ReadHoldingRegisters(registerBlockStart, registerBlockCount)
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(registerTable))
	for _, p := range registerTable {
		idx := int(p.Address) - registerBlockStart
		if idx >= 0 && idx < len(raw) {
			values[p.Name] = float64(raw[idx]) / p.Scale
		}
	}
	return values, nil
}

// ReadAllCoils reads the program coil block in one transaction and returns
// the named values.
func ReadAllCoils(c driver.Client) (map[string]bool, error) {
	raw, err := c.ReadCoils(coilBlockStart, programCoilEnd+1)
	if err != nil {
		return nil, err
	}

	values := make(map[string]bool, programCoilEnd+1)
	for _, p := range coilTable {
		if p.Address > programCoilEnd {
			continue
		}
		values[p.Name] = raw[p.Address]
	}
	return values, nil
}
