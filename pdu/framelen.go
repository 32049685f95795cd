package pdu

import (
	"errors"

	"github.com/fieldgrid-io/gomodbus/modbus"
)

// Side tells the length scanner which shape table to apply: a request-side
// scanner is used by a server decoding bytes coming from a client, a
// response-side scanner is used by a client decoding bytes coming from a
// server. The two shapes differ per function code, so the framer must know
// which side it is on before it can tell a complete frame from a partial one.
type Side int

const (
	// RequestSide decodes client-to-server request PDUs.
	RequestSide Side = iota
	// ResponseSide decodes server-to-client response PDUs.
	ResponseSide
)

// maxMEIObjectValue bounds a single device-information object's declared
// length so a corrupt length byte can't make the scanner demand gigabytes.
const maxMEIObjectValue = 255

// FrameLength inspects a buffered PDU (buf[0] is the function code) and
// reports the total PDU length once it is determinable from the bytes seen
// so far. ok is false when more bytes are needed. An error is returned only
// when the buffered bytes are self-contradictory (e.g. a byte-count field
// that cannot fit); framers treat that the same as a checksum failure.
func FrameLength(buf []byte, side Side) (n int, ok bool, err error) {
	if len(buf) < 1 {
		return 0, false, nil
	}

	fc := modbus.FunctionCode(buf[0])
	if fc.IsException() {
		if len(buf) < 2 {
			return 0, false, nil
		}
		return 2, true, nil
	}

	switch modbus.FunctionCode(fc) {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		if side == RequestSide {
			return fixed(buf, 5)
		}
		return byteCountPrefixed(buf, 2)

	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		// The response echoes the request's address and value.
		return fixed(buf, 5)

	case modbus.FuncCodeReadExceptionStatus:
		if side == RequestSide {
			return fixed(buf, 1)
		}
		return fixed(buf, 2)

	case modbus.FuncCodeDiagnostic:
		// Standard sub-functions all carry a 2-byte data field.
		return fixed(buf, 5)

	case modbus.FuncCodeGetCommEventCounter:
		if side == RequestSide {
			return fixed(buf, 1)
		}
		return fixed(buf, 5)

	case modbus.FuncCodeGetCommEventLog:
		if side == RequestSide {
			return fixed(buf, 1)
		}
		return byteCountPrefixed(buf, 2)

	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if side == RequestSide {
			return byteCountAt(buf, 6, 5)
		}
		return fixed(buf, 5)

	case modbus.FuncCodeReportServerID:
		if side == RequestSide {
			return fixed(buf, 1)
		}
		return byteCountPrefixed(buf, 2)

	case modbus.FuncCodeReadFileRecord, modbus.FuncCodeWriteFileRecord:
		return byteCountPrefixed(buf, 2)

	case modbus.FuncCodeMaskWriteRegister:
		return fixed(buf, 7)

	case modbus.FuncCodeReadWriteMultipleRegs:
		if side == RequestSide {
			return byteCountAt(buf, 10, 9)
		}
		return byteCountPrefixed(buf, 2)

	case modbus.FuncCodeReadFIFOQueue:
		if side == RequestSide {
			return fixed(buf, 3)
		}
		return fifoQueueLength(buf)

	case modbus.FuncCodeEncapsulatedInterface:
		if side == RequestSide {
			return fixed(buf, 4)
		}
		return meiResponseLength(buf)

	default:
		return 0, false, errUnknownFunctionCode
	}
}

var errUnknownFunctionCode = errors.New("pdu: unknown function code for frame length detection")

// fixed reports a fixed total PDU length once enough bytes are buffered.
func fixed(buf []byte, total int) (int, bool, error) {
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// byteCountPrefixed covers the common "function code, byte-count, byte-count
// data bytes" response shape used by every read-style response.
func byteCountPrefixed(buf []byte, headerLen int) (int, bool, error) {
	if len(buf) < headerLen {
		return 0, false, nil
	}
	byteCount := int(buf[headerLen-1])
	total := headerLen + byteCount
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// byteCountAt covers request shapes where a byte-count field sits at a fixed
// offset ahead of a fixed address/count header, e.g. WriteMultipleRegisters.
func byteCountAt(buf []byte, headerLen int, byteCountOffset int) (int, bool, error) {
	if len(buf) < headerLen {
		return 0, false, nil
	}
	byteCount := int(buf[byteCountOffset])
	total := headerLen + byteCount
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// fifoQueueLength decodes the ReadFIFOQueue response shape: fc, byteCount
// (uint16), fifoCount (uint16), fifoCount*2 data bytes.
func fifoQueueLength(buf []byte) (int, bool, error) {
	if len(buf) < 3 {
		return 0, false, nil
	}
	byteCount := int(buf[1])<<8 | int(buf[2])
	total := 3 + byteCount
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// meiResponseLength walks the ReadDeviceInformation response's nested
// object list: fc, meiType, readCode, conformity, moreFollows, nextObjectID,
// numberOfObjects, then numberOfObjects * (objectID, objectLength, data).
func meiResponseLength(buf []byte) (int, bool, error) {
	const header = 7
	if len(buf) < header {
		return 0, false, nil
	}
	numObjects := int(buf[6])
	offset := header
	for i := 0; i < numObjects; i++ {
		if len(buf) < offset+2 {
			return 0, false, nil
		}
		objLen := int(buf[offset+1])
		if objLen > maxMEIObjectValue {
			return 0, false, errUnknownFunctionCode
		}
		offset += 2 + objLen
		if len(buf) < offset {
			return 0, false, nil
		}
	}
	return offset, true, nil
}
