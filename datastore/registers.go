package datastore

import (
	"fmt"

	"github.com/fieldgrid-io/gomodbus/modbus"
)

// bitsPerSharedWord is the coil-to-register packing ratio under
// SharedLayout: coil N lives in bit N%16 of register N/16, discrete input N
// is aliased the same way into the top half of the register space so the
// two bit-addressable object types don't collide with each other. They do
// share words with the word-addressable register types, which index the
// same array directly: coil 0 is bit 0 of holding register 0.
const bitsPerSharedWord = 16

// ReadCoils implements modbus.DataStore.
func (c *Context) ReadCoils(address modbus.Address, quantity modbus.Quantity) ([]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.resolve(address)
	if err != nil {
		return nil, modbus.NewModbusError(modbus.FuncCodeReadCoils, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	if c.opts.Layout == SharedLayout {
		return c.readSharedBits(modbus.FuncCodeReadCoils, idx, int(quantity), 0)
	}

	end := idx + int(quantity)
	if idx < 0 || end > len(c.coils) {
		return nil, c.rangeError(modbus.FuncCodeReadCoils, idx, end, len(c.coils))
	}
	result := make([]bool, quantity)
	copy(result, c.coils[idx:end])
	return result, nil
}

// WriteCoils implements modbus.DataStore.
func (c *Context) WriteCoils(address modbus.Address, values []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.resolve(address)
	if err != nil {
		return modbus.NewModbusError(modbus.FuncCodeWriteMultipleCoils, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	if c.opts.Layout == SharedLayout {
		return c.writeSharedBits(modbus.FuncCodeWriteMultipleCoils, idx, values, 0)
	}

	end := idx + len(values)
	if idx < 0 || end > len(c.coils) {
		return c.rangeError(modbus.FuncCodeWriteMultipleCoils, idx, end, len(c.coils))
	}
	copy(c.coils[idx:end], values)
	return nil
}

// ReadDiscreteInputs implements modbus.DataStore.
func (c *Context) ReadDiscreteInputs(address modbus.Address, quantity modbus.Quantity) ([]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.resolve(address)
	if err != nil {
		return nil, modbus.NewModbusError(modbus.FuncCodeReadDiscreteInputs, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	if c.opts.Layout == SharedLayout {
		// Discrete inputs alias the second half of the coil bit space so a
		// shared-memory device can expose read-only bits distinct from its
		// writable coils without a second backing array.
		return c.readSharedBits(modbus.FuncCodeReadDiscreteInputs, idx, int(quantity), len(c.registers)*bitsPerSharedWord/2)
	}

	end := idx + int(quantity)
	if idx < 0 || end > len(c.discreteInputs) {
		return nil, c.rangeError(modbus.FuncCodeReadDiscreteInputs, idx, end, len(c.discreteInputs))
	}
	result := make([]bool, quantity)
	copy(result, c.discreteInputs[idx:end])
	return result, nil
}

// SetDiscreteInputs seeds discrete input values directly, for simulating
// external digital inputs a device would update from its own hardware
// rather than through a MODBUS write (discrete inputs have no write
// function code on the wire).
func (c *Context) SetDiscreteInputs(address modbus.Address, values []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.resolve(address)
	if err != nil {
		return modbus.NewModbusError(modbus.FuncCodeReadDiscreteInputs, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	if c.opts.Layout == SharedLayout {
		return c.writeSharedBits(modbus.FuncCodeReadDiscreteInputs, idx, values, len(c.registers)*bitsPerSharedWord/2)
	}

	end := idx + len(values)
	if idx < 0 || end > len(c.discreteInputs) {
		return c.rangeError(modbus.FuncCodeReadDiscreteInputs, idx, end, len(c.discreteInputs))
	}
	copy(c.discreteInputs[idx:end], values)
	return nil
}

// ReadHoldingRegisters implements modbus.DataStore.
func (c *Context) ReadHoldingRegisters(address modbus.Address, quantity modbus.Quantity) ([]uint16, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.resolve(address)
	if err != nil {
		return nil, modbus.NewModbusError(modbus.FuncCodeReadHoldingRegisters, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	store := c.holdingRegisters
	if c.opts.Layout == SharedLayout {
		store = c.registers
	}

	end := idx + int(quantity)
	if idx < 0 || end > len(store) {
		return nil, c.rangeError(modbus.FuncCodeReadHoldingRegisters, idx, end, len(store))
	}
	result := make([]uint16, quantity)
	copy(result, store[idx:end])
	return result, nil
}

// WriteHoldingRegisters implements modbus.DataStore.
func (c *Context) WriteHoldingRegisters(address modbus.Address, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.resolve(address)
	if err != nil {
		return modbus.NewModbusError(modbus.FuncCodeWriteMultipleRegisters, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	store := c.holdingRegisters
	if c.opts.Layout == SharedLayout {
		store = c.registers
	}

	end := idx + len(values)
	if idx < 0 || end > len(store) {
		return c.rangeError(modbus.FuncCodeWriteMultipleRegisters, idx, end, len(store))
	}
	copy(store[idx:end], values)
	return nil
}

// ReadInputRegisters implements modbus.DataStore. Under SharedLayout, input
// registers read the same backing array as holding registers: a device
// that exposes its whole memory map through one array has no separate
// read-only register bank, so the distinction becomes purely which
// function code the client used to get there.
func (c *Context) ReadInputRegisters(address modbus.Address, quantity modbus.Quantity) ([]uint16, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.resolve(address)
	if err != nil {
		return nil, modbus.NewModbusError(modbus.FuncCodeReadInputRegisters, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	store := c.inputRegisters
	if c.opts.Layout == SharedLayout {
		store = c.registers
	}

	end := idx + int(quantity)
	if idx < 0 || end > len(store) {
		return nil, c.rangeError(modbus.FuncCodeReadInputRegisters, idx, end, len(store))
	}
	result := make([]uint16, quantity)
	copy(result, store[idx:end])
	return result, nil
}

// SetInputRegisters seeds input register values directly, for simulating
// sensor/process data a device would populate internally rather than
// through a MODBUS write (input registers have no write function code on
// the wire).
func (c *Context) SetInputRegisters(address modbus.Address, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.resolve(address)
	if err != nil {
		return modbus.NewModbusError(modbus.FuncCodeReadInputRegisters, modbus.ExceptionCodeIllegalDataAddress, err.Error())
	}

	store := c.inputRegisters
	if c.opts.Layout == SharedLayout {
		store = c.registers
	}

	end := idx + len(values)
	if idx < 0 || end > len(store) {
		return c.rangeError(modbus.FuncCodeReadInputRegisters, idx, end, len(store))
	}
	copy(store[idx:end], values)
	return nil
}

// readSharedBits reads quantity bits starting at idx out of the register
// array, offset by bitOffset bits (used to separate the discrete-input
// alias region from the coil region within the same backing store).
func (c *Context) readSharedBits(fc modbus.FunctionCode, idx, quantity, bitOffset int) ([]bool, error) {
	totalBits := len(c.registers) * bitsPerSharedWord
	start := idx + bitOffset
	end := start + quantity
	if idx < 0 || end > totalBits {
		return nil, c.rangeError(fc, idx, idx+quantity, totalBits-bitOffset)
	}

	result := make([]bool, quantity)
	for i := 0; i < quantity; i++ {
		bit := start + i
		reg := c.registers[bit/bitsPerSharedWord]
		result[i] = reg&(1<<uint(bit%bitsPerSharedWord)) != 0
	}
	return result, nil
}

// writeSharedBits writes values as bits into the register array starting
// at idx, offset by bitOffset.
func (c *Context) writeSharedBits(fc modbus.FunctionCode, idx int, values []bool, bitOffset int) error {
	totalBits := len(c.registers) * bitsPerSharedWord
	start := idx + bitOffset
	end := start + len(values)
	if idx < 0 || end > totalBits {
		return c.rangeError(fc, idx, idx+len(values), totalBits-bitOffset)
	}

	for i, v := range values {
		bit := start + i
		regIdx := bit / bitsPerSharedWord
		mask := uint16(1) << uint(bit%bitsPerSharedWord)
		if v {
			c.registers[regIdx] |= mask
		} else {
			c.registers[regIdx] &^= mask
		}
	}
	return nil
}

// rangeError reports an out-of-bounds access. When EnforceTypeExceptions is
// set and the backing array has zero capacity, the object type itself was
// never provisioned for this device, which is reported distinctly from an
// address merely running past the end of a nonempty array, since the two
// point a device integrator at different fixes (configure the object type
// at all, vs widen its range).
func (c *Context) rangeError(fc modbus.FunctionCode, start, end, size int) error {
	if c.opts.EnforceTypeExceptions && size == 0 {
		return modbus.NewModbusError(fc, modbus.ExceptionCodeIllegalDataAddress,
			"object type not provisioned on this device")
	}
	return modbus.NewModbusError(fc, modbus.ExceptionCodeIllegalDataAddress,
		fmt.Sprintf("address range %d-%d out of bounds (0-%d)", start, end-1, size-1))
}

// ReadFileRecords implements modbus.DataStore.
func (c *Context) ReadFileRecords(records []modbus.FileRecord) ([]modbus.FileRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]modbus.FileRecord, 0, len(records))
	for _, rec := range records {
		if rec.ReferenceType != modbus.FileRecordTypeExtended {
			return nil, modbus.NewModbusError(modbus.FuncCodeReadFileRecord, modbus.ExceptionCodeIllegalDataValue,
				fmt.Sprintf("unsupported reference type %d", rec.ReferenceType))
		}
		fileMap, ok := c.fileRecords[rec.FileNumber]
		if !ok {
			return nil, modbus.NewModbusError(modbus.FuncCodeReadFileRecord, modbus.ExceptionCodeIllegalDataAddress,
				fmt.Sprintf("file number %d not found", rec.FileNumber))
		}
		data, ok := fileMap[rec.RecordNumber]
		if !ok || uint16(len(data)) < rec.RecordLength {
			return nil, modbus.NewModbusError(modbus.FuncCodeReadFileRecord, modbus.ExceptionCodeIllegalDataAddress,
				fmt.Sprintf("record %d in file %d not found or too short", rec.RecordNumber, rec.FileNumber))
		}
		out := modbus.FileRecord{
			ReferenceType: rec.ReferenceType,
			FileNumber:    rec.FileNumber,
			RecordNumber:  rec.RecordNumber,
			RecordLength:  rec.RecordLength,
			RecordData:    append([]uint16(nil), data[:rec.RecordLength]...),
		}
		result = append(result, out)
	}
	return result, nil
}

// WriteFileRecords implements modbus.DataStore.
func (c *Context) WriteFileRecords(records []modbus.FileRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range records {
		if rec.ReferenceType != modbus.FileRecordTypeExtended {
			return modbus.NewModbusError(modbus.FuncCodeWriteFileRecord, modbus.ExceptionCodeIllegalDataValue,
				fmt.Sprintf("unsupported reference type %d", rec.ReferenceType))
		}
		fileMap, ok := c.fileRecords[rec.FileNumber]
		if !ok {
			fileMap = make(map[uint16][]uint16)
			c.fileRecords[rec.FileNumber] = fileMap
		}
		fileMap[rec.RecordNumber] = append([]uint16(nil), rec.RecordData...)
	}
	return nil
}

// ReadFIFOQueue implements modbus.DataStore.
func (c *Context) ReadFIFOQueue(address modbus.Address) ([]uint16, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	queue, ok := c.fifoQueues[uint16(address)]
	if !ok {
		return []uint16{}, nil
	}
	return append([]uint16(nil), queue...), nil
}

// WriteFIFOQueue stores a FIFO queue's contents at address, used by tests
// and application code seeding queue state the way a real device would
// populate it as events occur.
func (c *Context) WriteFIFOQueue(address modbus.Address, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(values) > modbus.MaxFIFOCount {
		return modbus.NewModbusError(modbus.FuncCodeReadFIFOQueue, modbus.ExceptionCodeIllegalDataValue,
			fmt.Sprintf("FIFO queue size %d exceeds maximum %d", len(values), modbus.MaxFIFOCount))
	}
	c.fifoQueues[uint16(address)] = append([]uint16(nil), values...)
	return nil
}

// ReadExceptionStatus implements modbus.DataStore.
func (c *Context) ReadExceptionStatus() (uint8, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exceptionStatus, nil
}

// SetExceptionStatus sets the 8 coils function code 0x07 reports.
func (c *Context) SetExceptionStatus(status uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptionStatus = status
}
