package datastore

import (
	"fmt"

	"github.com/fieldgrid-io/gomodbus/modbus"
	"github.com/fieldgrid-io/gomodbus/pdu"
)

// GetDiagnosticData implements modbus.DataStore, dispatching the standard
// diagnostic sub-functions against the context's own counters. Unlike a
// data store with no notion of listen-only mode, ForceListenOnlyMode here
// actually flips Context.listenOnly, and RestartCommOption clears it back
// off along with the event log, mirroring how a real device treats a comm
// restart as leaving any diagnostic mode it was put into.
func (c *Context) GetDiagnosticData(subFunction uint16, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch subFunction {
	case modbus.DiagSubReturnQueryData:
		return data, nil

	case modbus.DiagSubRestartCommOption:
		c.commEventLog = c.commEventLog[:0]
		c.counters = Counters{}
		c.listenOnly = false
		return data, nil

	case modbus.DiagSubReturnDiagRegister:
		result := make([]byte, 2)
		if c.listenOnly {
			result[1] = 0x01
		}
		return result, nil

	case modbus.DiagSubForceListenOnlyMode:
		c.listenOnly = true
		return nil, nil

	case modbus.DiagSubClearCounters:
		c.counters = Counters{}
		return data, nil

	case modbus.DiagSubReturnBusMessageCount:
		return pdu.EncodeUint16(c.counters.BusMessageCount), nil

	case modbus.DiagSubReturnBusCommErrorCount:
		return pdu.EncodeUint16(c.counters.BusCommErrorCount), nil

	case modbus.DiagSubReturnBusExceptionCount:
		return pdu.EncodeUint16(c.counters.BusExceptionCount), nil

	case modbus.DiagSubReturnServerMessageCount:
		return pdu.EncodeUint16(c.counters.ServerMessageCount), nil

	case modbus.DiagSubReturnServerNoRespCount:
		return pdu.EncodeUint16(c.counters.ServerNoRespCount), nil

	case modbus.DiagSubReturnServerNAKCount:
		return pdu.EncodeUint16(c.counters.ServerNAKCount), nil

	case modbus.DiagSubReturnServerBusyCount:
		return pdu.EncodeUint16(c.counters.ServerBusyCount), nil

	case modbus.DiagSubReturnBusCharOverrunCount:
		return pdu.EncodeUint16(c.counters.BusCharOverrunCount), nil

	case modbus.DiagSubClearOverrunCounter:
		c.counters.BusCharOverrunCount = 0
		return data, nil

	default:
		return nil, modbus.NewModbusError(modbus.FuncCodeDiagnostic, modbus.ExceptionCodeIllegalFunction,
			fmt.Sprintf("unsupported diagnostic sub-function %d", subFunction))
	}
}

// GetCommEventCounter implements modbus.DataStore.
func (c *Context) GetCommEventCounter() (uint16, uint16, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := uint16(0xFFFF)
	if c.listenOnly {
		status = 0x0000
	}
	return status, c.counters.BusMessageCount, nil
}

// GetCommEventLog implements modbus.DataStore.
func (c *Context) GetCommEventLog() (uint16, uint16, uint16, []byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := uint16(0xFFFF)
	if c.listenOnly {
		status = 0x0000
	}
	events := append([]byte(nil), c.commEventLog...)
	return status, c.counters.BusMessageCount, c.counters.ServerMessageCount, events, nil
}

// AppendCommEvent appends a raw event byte to the communication event log
// that GetCommEventLog reports, capped at 64 entries the way the teacher's
// original log buffer was sized, discarding the oldest entry once full.
func (c *Context) AppendCommEvent(event byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	const maxEvents = 64
	c.commEventLog = append(c.commEventLog, event)
	if len(c.commEventLog) > maxEvents {
		c.commEventLog = c.commEventLog[len(c.commEventLog)-maxEvents:]
	}
}
