package modbus

import (
	"encoding/binary"
	"sync"

	"github.com/fieldgrid-io/gomodbus/datastore"
	"github.com/fieldgrid-io/gomodbus/modbus"
	"github.com/fieldgrid-io/gomodbus/pdu"
	"github.com/fieldgrid-io/gomodbus/transport"
)

// Server represents a MODBUS server
type Server struct {
	transport  transport.RequestHandler
	dataStore  modbus.DataStore
	slaveID    modbus.SlaveID
	deviceInfo *modbus.DeviceIdentification
	mutex      sync.RWMutex
}

// listenOnlyDataStore is implemented by datastore.Context. A dataStore that
// doesn't implement it (a caller's own modbus.DataStore) is treated as never
// listen-only.
type listenOnlyDataStore interface {
	ListenOnly() bool
}

// NewDeviceContext builds the in-memory device context this server's
// handler dispatches against: a block-layout/zero-mode/listen-only aware
// implementation of modbus.DataStore.
func NewDeviceContext(opts datastore.Options) *datastore.Context {
	return datastore.New(opts)
}

// ServerRequestHandler implements the RequestHandler interface
type ServerRequestHandler struct {
	dataStore  modbus.DataStore
	deviceInfo *modbus.DeviceIdentification
}

// NewServerRequestHandler creates a new server request handler backed by
// dataStore. Pass a *datastore.Context (see NewDeviceContext) to get
// listen-only mode support; any other modbus.DataStore implementation works
// too, just without listen-only suppression.
func NewServerRequestHandler(dataStore modbus.DataStore) *ServerRequestHandler {
	return &ServerRequestHandler{
		dataStore: dataStore,
		deviceInfo: &modbus.DeviceIdentification{
			VendorName:         "ModbusGo",
			ProductCode:        "MG001",
			MajorMinorRevision: "1.0.0",
			ConformityLevel:    modbus.ConformityLevelBasicStream,
		},
	}
}

// SetDeviceIdentification sets the device identification information
func (h *ServerRequestHandler) SetDeviceIdentification(deviceInfo *modbus.DeviceIdentification) {
	h.deviceInfo = deviceInfo
}

// HandleRequest implements transport.RequestHandler. Dispatch always runs,
// so writes still land (no diagnostic counter is updated here), but while the
// device context reports listen-only mode the response is suppressed
// entirely — returning nil tells the transport layer to put nothing back on
// the wire, per the Force Listen Only Mode diagnostic sub-function.
func (h *ServerRequestHandler) HandleRequest(slaveID modbus.SlaveID, req *pdu.Request) *pdu.Response {
	resp := h.dispatch(req)

	if lo, ok := h.dataStore.(listenOnlyDataStore); ok && lo.ListenOnly() {
		return nil
	}
	return resp
}

// dispatch routes a request PDU to its handler by function code.
func (h *ServerRequestHandler) dispatch(req *pdu.Request) *pdu.Response {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return h.handleReadCoils(req)
	case modbus.FuncCodeReadDiscreteInputs:
		return h.handleReadDiscreteInputs(req)
	case modbus.FuncCodeReadHoldingRegisters:
		return h.handleReadHoldingRegisters(req)
	case modbus.FuncCodeReadInputRegisters:
		return h.handleReadInputRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		return h.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return h.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return h.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return h.handleWriteMultipleRegisters(req)
	case modbus.FuncCodeMaskWriteRegister:
		return h.handleMaskWriteRegister(req)
	case modbus.FuncCodeReadWriteMultipleRegs:
		return h.handleReadWriteMultipleRegisters(req)
	case modbus.FuncCodeReadExceptionStatus:
		return h.handleReadExceptionStatus(req)
	case modbus.FuncCodeDiagnostic:
		return h.handleDiagnostic(req)
	case modbus.FuncCodeGetCommEventCounter:
		return h.handleGetCommEventCounter(req)
	case modbus.FuncCodeGetCommEventLog:
		return h.handleGetCommEventLog(req)
	case modbus.FuncCodeReportServerID:
		return h.handleReportServerID(req)
	case modbus.FuncCodeReadFileRecord:
		return h.handleReadFileRecord(req)
	case modbus.FuncCodeWriteFileRecord:
		return h.handleWriteFileRecord(req)
	case modbus.FuncCodeReadFIFOQueue:
		return h.handleReadFIFOQueue(req)
	case modbus.FuncCodeEncapsulatedInterface:
		return h.handleEncapsulatedInterface(req)
	default:
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

// handleReadCoils handles read coils request
func (h *ServerRequestHandler) handleReadCoils(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 4 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	quantity, _ := pdu.DecodeUint16(req.Data[2:4])

	values, err := h.dataStore.ReadCoils(modbus.Address(address), modbus.Quantity(quantity))
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	coilBytes := pdu.EncodeBoolSlice(values)
	responseData := make([]byte, 1+len(coilBytes))
	responseData[0] = byte(len(coilBytes))
	copy(responseData[1:], coilBytes)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleReadDiscreteInputs handles read discrete inputs request
func (h *ServerRequestHandler) handleReadDiscreteInputs(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 4 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	quantity, _ := pdu.DecodeUint16(req.Data[2:4])

	values, err := h.dataStore.ReadDiscreteInputs(modbus.Address(address), modbus.Quantity(quantity))
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	inputBytes := pdu.EncodeBoolSlice(values)
	responseData := make([]byte, 1+len(inputBytes))
	responseData[0] = byte(len(inputBytes))
	copy(responseData[1:], inputBytes)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleReadHoldingRegisters handles read holding registers request
func (h *ServerRequestHandler) handleReadHoldingRegisters(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 4 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	quantity, _ := pdu.DecodeUint16(req.Data[2:4])

	values, err := h.dataStore.ReadHoldingRegisters(modbus.Address(address), modbus.Quantity(quantity))
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	registerBytes := pdu.EncodeUint16Slice(values)
	responseData := make([]byte, 1+len(registerBytes))
	responseData[0] = byte(len(registerBytes))
	copy(responseData[1:], registerBytes)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleReadInputRegisters handles read input registers request
func (h *ServerRequestHandler) handleReadInputRegisters(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 4 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	quantity, _ := pdu.DecodeUint16(req.Data[2:4])

	values, err := h.dataStore.ReadInputRegisters(modbus.Address(address), modbus.Quantity(quantity))
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	registerBytes := pdu.EncodeUint16Slice(values)
	responseData := make([]byte, 1+len(registerBytes))
	responseData[0] = byte(len(registerBytes))
	copy(responseData[1:], registerBytes)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleWriteSingleCoil handles write single coil request
func (h *ServerRequestHandler) handleWriteSingleCoil(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 4 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	value, _ := pdu.DecodeUint16(req.Data[2:4])

	// Validate coil value
	if value != modbus.CoilOff && value != modbus.CoilOn {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	coilValue := value == modbus.CoilOn
	err := h.dataStore.WriteCoils(modbus.Address(address), []bool{coilValue})
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Echo back the request
	return pdu.NewResponse(req.FunctionCode, req.Data)
}

// handleWriteSingleRegister handles write single register request
func (h *ServerRequestHandler) handleWriteSingleRegister(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 4 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	value, _ := pdu.DecodeUint16(req.Data[2:4])

	err := h.dataStore.WriteHoldingRegisters(modbus.Address(address), []uint16{value})
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Echo back the request
	return pdu.NewResponse(req.FunctionCode, req.Data)
}

// handleWriteMultipleCoils handles write multiple coils request
func (h *ServerRequestHandler) handleWriteMultipleCoils(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 5 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	quantity, _ := pdu.DecodeUint16(req.Data[2:4])
	byteCount := req.Data[4]

	if len(req.Data) != 5+int(byteCount) {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values := pdu.DecodeBoolSlice(req.Data[5:], int(quantity))
	err := h.dataStore.WriteCoils(modbus.Address(address), values)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Return address and quantity
	responseData := make([]byte, 4)
	copy(responseData[0:2], pdu.EncodeUint16(uint16(address)))
	copy(responseData[2:4], pdu.EncodeUint16(uint16(quantity)))

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleWriteMultipleRegisters handles write multiple registers request
func (h *ServerRequestHandler) handleWriteMultipleRegisters(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 5 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	quantity, _ := pdu.DecodeUint16(req.Data[2:4])
	byteCount := req.Data[4]

	if len(req.Data) != 5+int(byteCount) || int(byteCount) != int(quantity)*2 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values, err := pdu.DecodeUint16Slice(req.Data[5:])
	if err != nil {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	err = h.dataStore.WriteHoldingRegisters(modbus.Address(address), values)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Return address and quantity
	responseData := make([]byte, 4)
	copy(responseData[0:2], pdu.EncodeUint16(uint16(address)))
	copy(responseData[2:4], pdu.EncodeUint16(uint16(quantity)))

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleMaskWriteRegister handles mask write register request
func (h *ServerRequestHandler) handleMaskWriteRegister(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 6 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])
	andMask, _ := pdu.DecodeUint16(req.Data[2:4])
	orMask, _ := pdu.DecodeUint16(req.Data[4:6])

	// Read current value
	currentValues, err := h.dataStore.ReadHoldingRegisters(modbus.Address(address), 1)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Apply mask: Result = (Current AND And_Mask) OR (Or_Mask AND (NOT And_Mask))
	current := currentValues[0]
	result := (current & andMask) | (orMask & (^andMask))

	// Write back
	err = h.dataStore.WriteHoldingRegisters(modbus.Address(address), []uint16{result})
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Echo back the request
	return pdu.NewResponse(req.FunctionCode, req.Data)
}

// handleReadWriteMultipleRegisters handles read/write multiple registers request
func (h *ServerRequestHandler) handleReadWriteMultipleRegisters(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 9 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	readAddress, _ := pdu.DecodeUint16(req.Data[0:2])
	readQuantity, _ := pdu.DecodeUint16(req.Data[2:4])
	writeAddress, _ := pdu.DecodeUint16(req.Data[4:6])
	writeQuantity, _ := pdu.DecodeUint16(req.Data[6:8])
	writeByteCount := req.Data[8]

	if len(req.Data) != 9+int(writeByteCount) || int(writeByteCount) != int(writeQuantity)*2 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	// Write first
	writeValues, err := pdu.DecodeUint16Slice(req.Data[9:])
	if err != nil {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	err = h.dataStore.WriteHoldingRegisters(modbus.Address(writeAddress), writeValues)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Then read
	readValues, err := h.dataStore.ReadHoldingRegisters(modbus.Address(readAddress), modbus.Quantity(readQuantity))
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	registerBytes := pdu.EncodeUint16Slice(readValues)
	responseData := make([]byte, 1+len(registerBytes))
	responseData[0] = byte(len(registerBytes))
	copy(responseData[1:], registerBytes)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleEncapsulatedInterface handles encapsulated interface transport
func (h *ServerRequestHandler) handleEncapsulatedInterface(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 1 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	meiType := req.Data[0]
	switch meiType {
	case modbus.MEITypeDeviceIdentification:
		return h.handleReadDeviceIdentification(req)
	default:
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

// handleReadDeviceIdentification handles read device identification
func (h *ServerRequestHandler) handleReadDeviceIdentification(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 3 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	readCode := req.Data[1]
	objectID := req.Data[2]

	// Basic implementation - return basic device info
	responseData := []byte{
		modbus.MEITypeDeviceIdentification,
		readCode,
		h.deviceInfo.ConformityLevel,
		0x00, // More follows = false
		0x00, // Next object ID
		0x03, // Number of objects (VendorName, ProductCode, MajorMinorRevision)
	}

	// Add VendorName
	responseData = append(responseData, modbus.DeviceIDVendorName)
	responseData = append(responseData, byte(len(h.deviceInfo.VendorName)))
	responseData = append(responseData, []byte(h.deviceInfo.VendorName)...)

	// Add ProductCode
	responseData = append(responseData, modbus.DeviceIDProductCode)
	responseData = append(responseData, byte(len(h.deviceInfo.ProductCode)))
	responseData = append(responseData, []byte(h.deviceInfo.ProductCode)...)

	// Add MajorMinorRevision
	responseData = append(responseData, modbus.DeviceIDMajorMinorRevision)
	responseData = append(responseData, byte(len(h.deviceInfo.MajorMinorRevision)))
	responseData = append(responseData, []byte(h.deviceInfo.MajorMinorRevision)...)

	_ = objectID // For future use with individual access

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleReadExceptionStatus handles read exception status request
func (h *ServerRequestHandler) handleReadExceptionStatus(req *pdu.Request) *pdu.Response {
	status, err := h.dataStore.ReadExceptionStatus()
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	return pdu.NewResponse(req.FunctionCode, []byte{status})
}

// handleDiagnostic handles diagnostic request
func (h *ServerRequestHandler) handleDiagnostic(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 2 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	subFunction, _ := pdu.DecodeUint16(req.Data[0:2])
	var data []byte
	if len(req.Data) > 2 {
		data = req.Data[2:]
	}

	result, err := h.dataStore.GetDiagnosticData(subFunction, data)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	responseData := make([]byte, 2+len(result))
	copy(responseData[0:2], pdu.EncodeUint16(subFunction))
	copy(responseData[2:], result)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleGetCommEventCounter handles get communication event counter request
func (h *ServerRequestHandler) handleGetCommEventCounter(req *pdu.Request) *pdu.Response {
	status, eventCount, err := h.dataStore.GetCommEventCounter()
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	responseData := make([]byte, 4)
	copy(responseData[0:2], pdu.EncodeUint16(status))
	copy(responseData[2:4], pdu.EncodeUint16(eventCount))

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleGetCommEventLog handles get communication event log request
func (h *ServerRequestHandler) handleGetCommEventLog(req *pdu.Request) *pdu.Response {
	status, eventCount, messageCount, events, err := h.dataStore.GetCommEventLog()
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	responseData := make([]byte, 7+len(events))
	responseData[0] = byte(6 + len(events)) // Byte count
	copy(responseData[1:3], pdu.EncodeUint16(status))
	copy(responseData[3:5], pdu.EncodeUint16(eventCount))
	copy(responseData[5:7], pdu.EncodeUint16(messageCount))
	copy(responseData[7:], events)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleReportServerID handles report server ID request
func (h *ServerRequestHandler) handleReportServerID(req *pdu.Request) *pdu.Response {
	// Basic implementation - return server ID and run indicator status
	serverID := []byte("ModbusGo Server v1.0")
	runIndicator := byte(0xFF) // 0xFF = ON

	responseData := make([]byte, 2+len(serverID))
	responseData[0] = byte(1 + len(serverID)) // Byte count
	responseData[1] = runIndicator
	copy(responseData[2:], serverID)

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// handleReadFileRecord handles read file record request
func (h *ServerRequestHandler) handleReadFileRecord(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 1 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	byteCount := req.Data[0]
	if len(req.Data) != 1+int(byteCount) {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	// Parse file record sub-requests
	records := make([]modbus.FileRecord, 0)
	offset := 1
	for offset < len(req.Data) {
		if offset+7 > len(req.Data) {
			return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}

		record := modbus.FileRecord{
			ReferenceType: req.Data[offset],
			FileNumber:    binary.BigEndian.Uint16(req.Data[offset+1 : offset+3]),
			RecordNumber:  binary.BigEndian.Uint16(req.Data[offset+3 : offset+5]),
			RecordLength:  binary.BigEndian.Uint16(req.Data[offset+5 : offset+7]),
		}
		records = append(records, record)
		offset += 7
	}

	// Read the file records
	resultRecords, err := h.dataStore.ReadFileRecords(records)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Build response
	var responseData []byte
	for _, record := range resultRecords {
		subResp := make([]byte, 1+1+len(record.RecordData)*2)
		subResp[0] = 1 + byte(len(record.RecordData)*2) // Sub-req length
		subResp[1] = record.ReferenceType
		recordBytes := pdu.EncodeUint16Slice(record.RecordData)
		copy(subResp[2:], recordBytes)
		responseData = append(responseData, subResp...)
	}

	fullResponse := make([]byte, 1+len(responseData))
	fullResponse[0] = byte(len(responseData))
	copy(fullResponse[1:], responseData)

	return pdu.NewResponse(req.FunctionCode, fullResponse)
}

// handleWriteFileRecord handles write file record request
func (h *ServerRequestHandler) handleWriteFileRecord(req *pdu.Request) *pdu.Response {
	if len(req.Data) < 1 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	byteCount := req.Data[0]
	if len(req.Data) != 1+int(byteCount) {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	// Parse file record sub-requests
	records := make([]modbus.FileRecord, 0)
	offset := 1
	for offset < len(req.Data) {
		if offset+7 > len(req.Data) {
			return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}

		record := modbus.FileRecord{
			ReferenceType: req.Data[offset],
			FileNumber:    binary.BigEndian.Uint16(req.Data[offset+1 : offset+3]),
			RecordNumber:  binary.BigEndian.Uint16(req.Data[offset+3 : offset+5]),
			RecordLength:  binary.BigEndian.Uint16(req.Data[offset+5 : offset+7]),
		}

		// Read the record data
		dataByteCount := int(record.RecordLength) * 2
		if offset+7+dataByteCount > len(req.Data) {
			return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}

		recordData, err := pdu.DecodeUint16Slice(req.Data[offset+7 : offset+7+dataByteCount])
		if err != nil {
			return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		record.RecordData = recordData

		records = append(records, record)
		offset += 7 + dataByteCount
	}

	// Write the file records
	err := h.dataStore.WriteFileRecords(records)
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	// Echo back the request as response
	return pdu.NewResponse(req.FunctionCode, req.Data)
}

// handleReadFIFOQueue handles read FIFO queue request
func (h *ServerRequestHandler) handleReadFIFOQueue(req *pdu.Request) *pdu.Response {
	if len(req.Data) != 2 {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	address, _ := pdu.DecodeUint16(req.Data[0:2])

	values, err := h.dataStore.ReadFIFOQueue(modbus.Address(address))
	if err != nil {
		if modbusErr, ok := err.(*modbus.ModbusError); ok {
			return pdu.NewExceptionResponse(req.FunctionCode, modbusErr.ExceptionCode)
		}
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	if len(values) > modbus.MaxFIFOCount {
		return pdu.NewExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	fifoCount := uint16(len(values))
	fifoBytes := pdu.EncodeUint16Slice(values)

	responseData := make([]byte, 4+len(fifoBytes))
	copy(responseData[0:2], pdu.EncodeUint16(uint16(2+len(fifoBytes)))) // Byte count
	copy(responseData[2:4], pdu.EncodeUint16(fifoCount))                // FIFO count
	copy(responseData[4:], fifoBytes)                                   // FIFO value register

	return pdu.NewResponse(req.FunctionCode, responseData)
}

// NewTCPServer creates a new MODBUS TCP server backed by dataStore.
func NewTCPServer(address string, dataStore modbus.DataStore) (*transport.TCPServer, error) {
	handler := NewServerRequestHandler(dataStore)
	return transport.NewTCPServer(address, handler), nil
}

// NewDefaultTCPServer creates a MODBUS TCP server backed by a fresh
// datastore.Context sized per opts, the batteries-included path for a server
// that doesn't need a custom modbus.DataStore.
func NewDefaultTCPServer(address string, opts datastore.Options) (*transport.TCPServer, error) {
	return NewTCPServer(address, NewDeviceContext(opts))
}
