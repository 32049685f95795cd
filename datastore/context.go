// Package datastore implements the device-context abstraction a server
// uses to hold its four MODBUS address spaces: coils, discrete inputs,
// holding registers, and input registers. It supports the two block
// layouts real devices use (four independent arrays, or one physical
// register array that coils/inputs alias into) and the addressing
// convention choice (zero-based pass-through vs the classic 1-based
// protocol numbering where a server subtracts 1 from every address).
package datastore

import (
	"fmt"
	"sync"

	"github.com/fieldgrid-io/gomodbus/modbus"
)

// BlockLayout selects how the four MODBUS object types map onto backing
// storage.
type BlockLayout int

const (
	// SeparateLayout gives coils, discrete inputs, holding registers, and
	// input registers each their own independent array, the layout most
	// MODBUS stacks (and this one's teacher) default to.
	SeparateLayout BlockLayout = iota

	// SharedLayout aliases every object type onto one underlying register
	// array: coil N is bit N%16 of register N/16, holding register N is word
	// N, and so on, the way a PLC that exposes its native memory map
	// directly over MODBUS usually does it. Useful when the data that
	// MODBUS clients read is also the program's live working memory.
	SharedLayout
)

// Counters tracks the bus- and server-level diagnostic counters MODBUS
// diagnostic sub-functions 11-18 report and the "Clear Counters and
// Diagnostic Register" sub-function resets.
type Counters struct {
	BusMessageCount     uint16
	BusCommErrorCount   uint16
	BusExceptionCount   uint16
	ServerMessageCount  uint16
	ServerNoRespCount   uint16
	ServerNAKCount      uint16
	ServerBusyCount     uint16
	BusCharOverrunCount uint16
}

// Options configures a new Context.
type Options struct {
	// Layout selects SeparateLayout or SharedLayout. Zero value is
	// SeparateLayout.
	Layout BlockLayout

	// CoilCount, DiscreteInputCount, HoldingRegisterCount, and
	// InputRegisterCount size the four address spaces under
	// SeparateLayout. Under SharedLayout, RegisterCount sizes the single
	// backing array and the other three are ignored.
	CoilCount            int
	DiscreteInputCount   int
	HoldingRegisterCount int
	InputRegisterCount   int
	RegisterCount        int

	// ZeroMode, when true, addresses coils/registers as the wire address
	// directly: a request for address 0 reads array index 0. When false,
	// which is the zero value, the context follows the classic 1-based
	// protocol convention and subtracts 1 from every incoming address
	// before indexing, so a request for address 1 reads array index 0 and
	// address 0 is out of range. Pass-through addressing is not the
	// default: it is on only when ZeroMode is set to true.
	ZeroMode bool

	// EnforceTypeExceptions, when true, returns IllegalDataAddress for a
	// read/write against an object type the context was never configured
	// to hold any of (e.g. ReadCoils against a context with CoilCount 0)
	// rather than treating every address as simply out of range the same
	// way a too-large address would be. Both are ultimately the same
	// exception code on the wire; the distinction only affects how the
	// context classifies its own internal validation failures for
	// diagnostics and logging.
	EnforceTypeExceptions bool

	Identification modbus.DeviceIdentification
}

// Context is a device's live data and diagnostic state: the four object
// address spaces, the diagnostic counters, identification strings, and the
// listen-only flag diagnostic sub-functions 0x04 and 0x01 toggle. It
// implements modbus.DataStore so it can be handed directly to a server.
type Context struct {
	opts Options

	mu               sync.RWMutex
	coils            []bool
	discreteInputs   []bool
	holdingRegisters []uint16
	inputRegisters   []uint16
	registers        []uint16 // backing store for SharedLayout

	counters        Counters
	exceptionStatus uint8
	listenOnly      bool
	commEventLog    []byte

	fileRecords map[uint16]map[uint16][]uint16
	fifoQueues  map[uint16][]uint16
}

// New returns a Context configured per opts, used as given: ZeroMode is
// not defaulted to true, so plain zero-value Options means SeparateLayout
// with 1-based addressing.
func New(opts Options) *Context {
	if opts.Layout == SharedLayout {
		if opts.RegisterCount <= 0 {
			opts.RegisterCount = 65536
		}
		return &Context{
			opts:        opts,
			registers:   make([]uint16, opts.RegisterCount),
			fileRecords: make(map[uint16]map[uint16][]uint16),
			fifoQueues:  make(map[uint16][]uint16),
		}
	}

	return &Context{
		opts:             opts,
		coils:            make([]bool, opts.CoilCount),
		discreteInputs:   make([]bool, opts.DiscreteInputCount),
		holdingRegisters: make([]uint16, opts.HoldingRegisterCount),
		inputRegisters:   make([]uint16, opts.InputRegisterCount),
		fileRecords:      make(map[uint16]map[uint16][]uint16),
		fifoQueues:       make(map[uint16][]uint16),
	}
}

// resolve converts a wire address into a zero-based array index, applying
// the 1-based protocol convention when the context is not in zero mode.
func (c *Context) resolve(address modbus.Address) (int, error) {
	if c.opts.ZeroMode {
		return int(address), nil
	}
	if address == 0 {
		return 0, fmt.Errorf("address 0 is not valid in 1-based addressing mode")
	}
	return int(address) - 1, nil
}

// ListenOnly reports whether the device is currently in listen-only mode,
// set by diagnostic sub-function 0x04 (Force Listen Only Mode) and cleared
// by a restart (sub-function 0x01). While listen-only, the request handler
// processes writes but suppresses every response, including exception
// responses, per the diagnostic sub-function's contract. The handler does
// not update any diagnostic counter, in this mode or any other.
func (c *Context) ListenOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listenOnly
}

// SetListenOnly sets or clears listen-only mode.
func (c *Context) SetListenOnly(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenOnly = enabled
}

// CountersSnapshot returns a copy of the current diagnostic counters.
func (c *Context) CountersSnapshot() Counters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters
}

// IncrementBusMessage increments the bus message counter, the count of
// frames the device addresses or overhears. The server request handler,
// the framers and the transports do not call it.
func (c *Context) IncrementBusMessage() {
	c.mu.Lock()
	c.counters.BusMessageCount++
	c.mu.Unlock()
}

// IncrementCommError increments the bus communication error counter, the
// count of frames that failed their CRC/LRC check. The framers and the
// transports do not call it.
func (c *Context) IncrementCommError() {
	c.mu.Lock()
	c.counters.BusCommErrorCount++
	c.mu.Unlock()
}

// IncrementBusException increments the bus exception counter, the count
// of exception responses the device has sent. The server request handler
// does not call it.
func (c *Context) IncrementBusException() {
	c.mu.Lock()
	c.counters.BusExceptionCount++
	c.mu.Unlock()
}

// IncrementServerMessage increments the count of messages addressed
// specifically to this device (as opposed to broadcasts it only overhears).
func (c *Context) IncrementServerMessage() {
	c.mu.Lock()
	c.counters.ServerMessageCount++
	c.mu.Unlock()
}

// ClearCounters resets every diagnostic counter to zero, implementing
// diagnostic sub-function 0x0A.
func (c *Context) ClearCounters() {
	c.mu.Lock()
	c.counters = Counters{}
	c.mu.Unlock()
}

// Identification returns the device identification strings configured at
// construction, used to answer ReportServerID and ReadDeviceIdentification.
func (c *Context) Identification() modbus.DeviceIdentification {
	return c.opts.Identification
}
