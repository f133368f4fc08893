// Package driver provides protocol clients for Modbus TCP controllers,
// including a behaviorally faithful simulated controller for testing
// without hardware.
package driver

// Client is the unified interface for controller communications. The real
// Modbus TCP client and the simulated controller both implement it; callers
// select an implementation through Create and never depend on the concrete
// type.
//
// Contract shared by all implementations:
//   - IsConnected is idempotent and side-effect-free.
//   - Disconnect is safe to call multiple times and on a never-connected
//     client.
//   - Reads and writes on a disconnected client fail fast with a
//     connection error rather than blocking.
//   - Writes report protocol-level rejection as (false, nil); callers that
//     need retry semantics treat that as a transient failure.
type Client interface {
	// Connection management
	Connect() error
	Disconnect() error
	IsConnected() bool

	// Register/coil operations
	ReadHoldingRegisters(address, count uint16) ([]uint16, error)
	ReadCoils(address, count uint16) ([]bool, error)
	WriteRegister(address, value uint16) (bool, error)
	WriteCoil(address uint16, value bool) (bool, error)
}
