package modbus

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/fieldgrid-io/gomodbus/datastore"
	"github.com/fieldgrid-io/gomodbus/modbus"
	"github.com/fieldgrid-io/gomodbus/pdu"
)

func newTestContext() *datastore.Context {
	return NewDeviceContext(datastore.Options{
		Layout:               datastore.SeparateLayout,
		CoilCount:            100,
		DiscreteInputCount:   100,
		HoldingRegisterCount: 100,
		InputRegisterCount:   100,
		ZeroMode:             true,
	})
}

func TestDeviceContextDataStore(t *testing.T) {
	ds := newTestContext()

	t.Run("ReadCoils", func(t *testing.T) {
		if err := ds.WriteCoils(0, []bool{true, false, true}); err != nil {
			t.Fatalf("WriteCoils: %v", err)
		}

		values, err := ds.ReadCoils(0, 3)
		if err != nil {
			t.Fatalf("Failed to read coils: %v", err)
		}

		expected := []bool{true, false, true}
		if !reflect.DeepEqual(values, expected) {
			t.Errorf("Expected %v, got %v", expected, values)
		}

		// Test out of bounds
		_, err = ds.ReadCoils(99, 2)
		if err == nil {
			t.Error("Expected error for out of bounds read")
		}
	})

	t.Run("WriteCoils", func(t *testing.T) {
		values := []bool{false, true, false, true}
		err := ds.WriteCoils(10, values)
		if err != nil {
			t.Fatalf("Failed to write coils: %v", err)
		}

		readValues, err := ds.ReadCoils(10, 4)
		if err != nil {
			t.Fatalf("Failed to read coils: %v", err)
		}

		if !reflect.DeepEqual(values, readValues) {
			t.Errorf("Expected %v, got %v", values, readValues)
		}

		// Test out of bounds
		err = ds.WriteCoils(98, values)
		if err == nil {
			t.Error("Expected error for out of bounds write")
		}
	})

	t.Run("ReadDiscreteInputs", func(t *testing.T) {
		if err := ds.SetDiscreteInputs(0, []bool{true, true, false}); err != nil {
			t.Fatalf("SetDiscreteInputs: %v", err)
		}

		values, err := ds.ReadDiscreteInputs(0, 3)
		if err != nil {
			t.Fatalf("Failed to read discrete inputs: %v", err)
		}

		expected := []bool{true, true, false}
		if !reflect.DeepEqual(values, expected) {
			t.Errorf("Expected %v, got %v", expected, values)
		}
	})

	t.Run("ReadHoldingRegisters", func(t *testing.T) {
		if err := ds.WriteHoldingRegisters(0, []uint16{1234, 5678, 9012}); err != nil {
			t.Fatalf("WriteHoldingRegisters: %v", err)
		}

		values, err := ds.ReadHoldingRegisters(0, 3)
		if err != nil {
			t.Fatalf("Failed to read holding registers: %v", err)
		}

		expected := []uint16{1234, 5678, 9012}
		if !reflect.DeepEqual(values, expected) {
			t.Errorf("Expected %v, got %v", expected, values)
		}
	})

	t.Run("WriteHoldingRegisters", func(t *testing.T) {
		values := []uint16{111, 222, 333}
		err := ds.WriteHoldingRegisters(20, values)
		if err != nil {
			t.Fatalf("Failed to write holding registers: %v", err)
		}

		readValues, err := ds.ReadHoldingRegisters(20, 3)
		if err != nil {
			t.Fatalf("Failed to read holding registers: %v", err)
		}

		if !reflect.DeepEqual(values, readValues) {
			t.Errorf("Expected %v, got %v", values, readValues)
		}
	})

	t.Run("ReadInputRegisters", func(t *testing.T) {
		if err := ds.SetInputRegisters(0, []uint16{4321, 8765}); err != nil {
			t.Fatalf("SetInputRegisters: %v", err)
		}

		values, err := ds.ReadInputRegisters(0, 2)
		if err != nil {
			t.Fatalf("Failed to read input registers: %v", err)
		}

		expected := []uint16{4321, 8765}
		if !reflect.DeepEqual(values, expected) {
			t.Errorf("Expected %v, got %v", expected, values)
		}
	})
}

func TestServerRequestHandler(t *testing.T) {
	ds := newTestContext()
	handler := NewServerRequestHandler(ds)

	t.Run("HandleReadCoils", func(t *testing.T) {
		if err := ds.WriteCoils(0, []bool{true, false, true}); err != nil {
			t.Fatalf("WriteCoils: %v", err)
		}

		reqData := make([]byte, 4)
		copy(reqData[0:2], pdu.EncodeUint16(0)) // Starting address
		copy(reqData[2:4], pdu.EncodeUint16(3)) // Quantity

		req := pdu.NewRequest(modbus.FuncCodeReadCoils, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeReadCoils {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeReadCoils, resp.FunctionCode)
		}

		if resp.IsException() {
			ec, _ := resp.GetExceptionCode()
			t.Errorf("Expected no exception, got %d", ec)
		}

		if resp.Data[0] != 1 {
			t.Errorf("Expected byte count 1, got %d", resp.Data[0])
		}

		// Expected: true, false, true = 0b00000101 = 0x05
		if resp.Data[1] != 0x05 {
			t.Errorf("Expected coil byte 0x05, got 0x%02X", resp.Data[1])
		}
	})

	t.Run("HandleWriteSingleCoil", func(t *testing.T) {
		reqData := make([]byte, 4)
		copy(reqData[0:2], pdu.EncodeUint16(5))      // Address
		copy(reqData[2:4], pdu.EncodeUint16(0xFF00)) // Value (ON)

		req := pdu.NewRequest(modbus.FuncCodeWriteSingleCoil, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeWriteSingleCoil {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeWriteSingleCoil, resp.FunctionCode)
		}

		if !bytes.Equal(resp.Data, reqData) {
			t.Error("Response data should echo request data")
		}

		values, _ := ds.ReadCoils(5, 1)
		if !values[0] {
			t.Error("Expected coil 5 to be ON")
		}
	})

	t.Run("HandleReadHoldingRegisters", func(t *testing.T) {
		if err := ds.WriteHoldingRegisters(10, []uint16{0x1234, 0x5678}); err != nil {
			t.Fatalf("WriteHoldingRegisters: %v", err)
		}

		reqData := make([]byte, 4)
		copy(reqData[0:2], pdu.EncodeUint16(10)) // Starting address
		copy(reqData[2:4], pdu.EncodeUint16(2))  // Quantity

		req := pdu.NewRequest(modbus.FuncCodeReadHoldingRegisters, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeReadHoldingRegisters, resp.FunctionCode)
		}

		if resp.Data[0] != 4 {
			t.Errorf("Expected byte count 4, got %d", resp.Data[0])
		}

		reg1, _ := pdu.DecodeUint16(resp.Data[1:3])
		reg2, _ := pdu.DecodeUint16(resp.Data[3:5])

		if reg1 != 0x1234 {
			t.Errorf("Expected register 1 = 0x1234, got 0x%04X", reg1)
		}
		if reg2 != 0x5678 {
			t.Errorf("Expected register 2 = 0x5678, got 0x%04X", reg2)
		}
	})

	t.Run("HandleWriteMultipleRegisters", func(t *testing.T) {
		values := []uint16{0xAAAA, 0xBBBB, 0xCCCC}

		reqData := make([]byte, 5+len(values)*2)
		copy(reqData[0:2], pdu.EncodeUint16(20))
		copy(reqData[2:4], pdu.EncodeUint16(uint16(len(values))))
		reqData[4] = byte(len(values) * 2)

		for i, v := range values {
			copy(reqData[5+i*2:7+i*2], pdu.EncodeUint16(v))
		}

		req := pdu.NewRequest(modbus.FuncCodeWriteMultipleRegisters, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeWriteMultipleRegisters {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeWriteMultipleRegisters, resp.FunctionCode)
		}

		respAddr, _ := pdu.DecodeUint16(resp.Data[0:2])
		respQty, _ := pdu.DecodeUint16(resp.Data[2:4])

		if respAddr != 20 {
			t.Errorf("Expected response address 20, got %d", respAddr)
		}
		if respQty != uint16(len(values)) {
			t.Errorf("Expected response quantity %d, got %d", len(values), respQty)
		}

		readValues, _ := ds.ReadHoldingRegisters(20, modbus.Quantity(len(values)))
		if !reflect.DeepEqual(values, readValues) {
			t.Errorf("Expected registers %v, got %v", values, readValues)
		}
	})

	t.Run("HandleMaskWriteRegister", func(t *testing.T) {
		if err := ds.WriteHoldingRegisters(30, []uint16{0x12}); err != nil {
			t.Fatalf("WriteHoldingRegisters: %v", err)
		}

		// Result should be (0x12 & 0xF2) | (0x25 & ~0xF2) = 0x12 | 0x05 = 0x17
		reqData := make([]byte, 6)
		copy(reqData[0:2], pdu.EncodeUint16(30))
		copy(reqData[2:4], pdu.EncodeUint16(0x00F2))
		copy(reqData[4:6], pdu.EncodeUint16(0x0025))

		req := pdu.NewRequest(modbus.FuncCodeMaskWriteRegister, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeMaskWriteRegister {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeMaskWriteRegister, resp.FunctionCode)
		}

		if !bytes.Equal(resp.Data, reqData) {
			t.Error("Response data should echo request data")
		}

		values, _ := ds.ReadHoldingRegisters(30, 1)
		if values[0] != 0x17 {
			t.Errorf("Expected register value 0x17, got 0x%02X", values[0])
		}
	})

	t.Run("HandleReadWriteMultipleRegisters", func(t *testing.T) {
		if err := ds.WriteHoldingRegisters(40, []uint16{0x1111, 0x2222}); err != nil {
			t.Fatalf("WriteHoldingRegisters: %v", err)
		}

		writeValues := []uint16{0x3333, 0x4444}

		reqData := make([]byte, 9+len(writeValues)*2)
		copy(reqData[0:2], pdu.EncodeUint16(40))
		copy(reqData[2:4], pdu.EncodeUint16(2))
		copy(reqData[4:6], pdu.EncodeUint16(50))
		copy(reqData[6:8], pdu.EncodeUint16(uint16(len(writeValues))))
		reqData[8] = byte(len(writeValues) * 2)

		for i, v := range writeValues {
			copy(reqData[9+i*2:11+i*2], pdu.EncodeUint16(v))
		}

		req := pdu.NewRequest(modbus.FuncCodeReadWriteMultipleRegs, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeReadWriteMultipleRegs {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeReadWriteMultipleRegs, resp.FunctionCode)
		}

		if resp.Data[0] != 4 {
			t.Errorf("Expected byte count 4, got %d", resp.Data[0])
		}

		reg1, _ := pdu.DecodeUint16(resp.Data[1:3])
		reg2, _ := pdu.DecodeUint16(resp.Data[3:5])

		if reg1 != 0x1111 {
			t.Errorf("Expected read register 1 = 0x1111, got 0x%04X", reg1)
		}
		if reg2 != 0x2222 {
			t.Errorf("Expected read register 2 = 0x2222, got 0x%04X", reg2)
		}

		writtenValues, _ := ds.ReadHoldingRegisters(50, modbus.Quantity(len(writeValues)))
		if !reflect.DeepEqual(writeValues, writtenValues) {
			t.Errorf("Expected written registers %v, got %v", writeValues, writtenValues)
		}
	})

	t.Run("HandleIllegalFunction", func(t *testing.T) {
		req := pdu.NewRequest(0x99, []byte{})

		resp := handler.HandleRequest(1, req)

		expectedFC := modbus.FunctionCode(0x99).ToException()
		if resp.FunctionCode != expectedFC {
			t.Errorf("Expected exception function code %d, got %d", expectedFC, resp.FunctionCode)
		}

		if !resp.IsException() {
			t.Error("Expected exception response")
		}

		ec, _ := resp.GetExceptionCode()
		if ec != modbus.ExceptionCodeIllegalFunction {
			t.Errorf("Expected exception code %d, got %d", modbus.ExceptionCodeIllegalFunction, ec)
		}
	})

	t.Run("HandleIllegalDataAddress", func(t *testing.T) {
		reqData := make([]byte, 4)
		copy(reqData[0:2], pdu.EncodeUint16(99)) // Starting address
		copy(reqData[2:4], pdu.EncodeUint16(5))  // Quantity - will exceed bounds

		req := pdu.NewRequest(modbus.FuncCodeReadCoils, reqData)

		resp := handler.HandleRequest(1, req)

		if !resp.IsException() {
			t.Error("Expected exception response")
		}

		ec, _ := resp.GetExceptionCode()
		if ec != modbus.ExceptionCodeIllegalDataAddress {
			t.Errorf("Expected exception code %d, got %d", modbus.ExceptionCodeIllegalDataAddress, ec)
		}
	})

	t.Run("HandleIllegalDataValue", func(t *testing.T) {
		req := pdu.NewRequest(modbus.FuncCodeReadCoils, []byte{0x00}) // Too short - should be 4 bytes

		resp := handler.HandleRequest(1, req)

		if !resp.IsException() {
			t.Error("Expected exception response")
		}

		ec, _ := resp.GetExceptionCode()
		if ec != modbus.ExceptionCodeIllegalDataValue {
			t.Errorf("Expected exception code %d, got %d", modbus.ExceptionCodeIllegalDataValue, ec)
		}
	})

	t.Run("ListenOnlySuppressesResponse", func(t *testing.T) {
		ds.SetListenOnly(true)
		defer ds.SetListenOnly(false)

		reqData := make([]byte, 4)
		copy(reqData[0:2], pdu.EncodeUint16(0))
		copy(reqData[2:4], pdu.EncodeUint16(1))
		req := pdu.NewRequest(modbus.FuncCodeReadHoldingRegisters, reqData)

		if resp := handler.HandleRequest(1, req); resp != nil {
			t.Errorf("expected nil response while listen-only, got %+v", resp)
		}
	})
}

func TestDeviceIdentification(t *testing.T) {
	ds := newTestContext()
	handler := NewServerRequestHandler(ds)

	deviceInfo := &modbus.DeviceIdentification{
		VendorName:          "TestVendor",
		ProductCode:         "TEST-001",
		MajorMinorRevision:  "1.2.3",
		VendorURL:           "https://example.com",
		ProductName:         "Test Product",
		ModelName:           "Model X",
		UserApplicationName: "Test App",
		ConformityLevel:     modbus.ConformityLevelBasicStream,
	}
	handler.SetDeviceIdentification(deviceInfo)

	t.Run("ReadDeviceIdentification", func(t *testing.T) {
		reqData := []byte{
			modbus.MEITypeDeviceIdentification,
			modbus.DeviceIDReadBasic,
			0x00, // Object ID
		}

		req := pdu.NewRequest(modbus.FuncCodeEncapsulatedInterface, reqData)

		resp := handler.HandleRequest(1, req)

		if resp.FunctionCode != modbus.FuncCodeEncapsulatedInterface {
			t.Errorf("Expected function code %d, got %d", modbus.FuncCodeEncapsulatedInterface, resp.FunctionCode)
		}

		if resp.Data[0] != modbus.MEITypeDeviceIdentification {
			t.Errorf("Expected MEI type %d, got %d", modbus.MEITypeDeviceIdentification, resp.Data[0])
		}

		if resp.Data[2] != modbus.ConformityLevelBasicStream {
			t.Errorf("Expected conformity level %d, got %d", modbus.ConformityLevelBasicStream, resp.Data[2])
		}

		if resp.Data[5] != 3 {
			t.Errorf("Expected 3 objects, got %d", resp.Data[5])
		}
	})
}

// Benchmark tests

func BenchmarkDataStoreReadCoils(b *testing.B) {
	ds := NewDeviceContext(datastore.Options{
		Layout: datastore.SeparateLayout, CoilCount: 1000, DiscreteInputCount: 1000,
		HoldingRegisterCount: 1000, InputRegisterCount: 1000, ZeroMode: true,
	})

	values := make([]bool, 100)
	for i := range values {
		values[i] = i%2 == 0
	}
	if err := ds.WriteCoils(0, values); err != nil {
		b.Fatalf("WriteCoils: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ds.ReadCoils(0, 100)
	}
}

func BenchmarkDataStoreWriteRegisters(b *testing.B) {
	ds := NewDeviceContext(datastore.Options{
		Layout: datastore.SeparateLayout, CoilCount: 1000, DiscreteInputCount: 1000,
		HoldingRegisterCount: 1000, InputRegisterCount: 1000, ZeroMode: true,
	})
	values := make([]uint16, 100)
	for i := range values {
		values[i] = uint16(i * 100)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ds.WriteHoldingRegisters(0, values)
	}
}

func BenchmarkServerHandleRequest(b *testing.B) {
	ds := NewDeviceContext(datastore.Options{
		Layout: datastore.SeparateLayout, CoilCount: 1000, DiscreteInputCount: 1000,
		HoldingRegisterCount: 1000, InputRegisterCount: 1000, ZeroMode: true,
	})
	handler := NewServerRequestHandler(ds)

	reqData := make([]byte, 4)
	copy(reqData[0:2], pdu.EncodeUint16(0))   // Starting address
	copy(reqData[2:4], pdu.EncodeUint16(100)) // Quantity

	req := pdu.NewRequest(modbus.FuncCodeReadHoldingRegisters, reqData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.HandleRequest(1, req)
	}
}
