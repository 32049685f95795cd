package datastore

import (
	"testing"

	"github.com/fieldgrid-io/gomodbus/modbus"
)

func newSeparate(t *testing.T) *Context {
	t.Helper()
	return New(Options{
		Layout:               SeparateLayout,
		CoilCount:            100,
		DiscreteInputCount:   100,
		HoldingRegisterCount: 100,
		InputRegisterCount:   100,
		ZeroMode:             true,
	})
}

func TestSeparateLayoutReadWriteHoldingRegisters(t *testing.T) {
	ctx := newSeparate(t)
	if err := ctx.WriteHoldingRegisters(0, []uint16{1, 2, 3}); err != nil {
		t.Fatalf("WriteHoldingRegisters: %v", err)
	}
	got, err := ctx.ReadHoldingRegisters(0, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected values: %v", got)
	}
}

func TestSeparateLayoutOutOfRangeIsIllegalDataAddress(t *testing.T) {
	ctx := newSeparate(t)
	_, err := ctx.ReadHoldingRegisters(95, 10)
	modbusErr, ok := err.(*modbus.ModbusError)
	if !ok {
		t.Fatalf("expected *modbus.ModbusError, got %T: %v", err, err)
	}
	if modbusErr.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Fatalf("expected IllegalDataAddress, got %v", modbusErr.ExceptionCode)
	}
}

func TestOneBasedAddressingSubtractsOne(t *testing.T) {
	ctx := New(Options{
		Layout:               SeparateLayout,
		HoldingRegisterCount: 10,
		ZeroMode:             false,
	})
	if err := ctx.WriteHoldingRegisters(1, []uint16{42}); err != nil {
		t.Fatalf("WriteHoldingRegisters: %v", err)
	}
	got, err := ctx.ReadHoldingRegisters(1, 1)
	if err != nil || got[0] != 42 {
		t.Fatalf("got=%v err=%v, want [42] nil", got, err)
	}

	if _, err := ctx.ReadHoldingRegisters(0, 1); err == nil {
		t.Fatalf("expected address 0 to be invalid in 1-based mode")
	}
}

func TestSharedLayoutCoilsAliasRegisterBits(t *testing.T) {
	ctx := New(Options{
		Layout:        SharedLayout,
		RegisterCount: 16,
		ZeroMode:      true,
	})

	if err := ctx.WriteCoils(0, []bool{true, false, true}); err != nil {
		t.Fatalf("WriteCoils: %v", err)
	}
	got, err := ctx.ReadCoils(0, 3)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if got[0] != true || got[1] != false || got[2] != true {
		t.Fatalf("unexpected coil values: %v", got)
	}

	// Bits 0 and 2 of register 0 should now be set.
	regs, err := ctx.ReadHoldingRegisters(0, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if regs[0] != 0x0005 {
		t.Fatalf("register 0 = %#04x, want 0x0005", regs[0])
	}
}

func TestListenOnlyModeToggling(t *testing.T) {
	ctx := newSeparate(t)
	if ctx.ListenOnly() {
		t.Fatalf("expected listen-only to start disabled")
	}

	if _, err := ctx.GetDiagnosticData(modbus.DiagSubForceListenOnlyMode, nil); err != nil {
		t.Fatalf("GetDiagnosticData(ForceListenOnlyMode): %v", err)
	}
	if !ctx.ListenOnly() {
		t.Fatalf("expected listen-only to be enabled after ForceListenOnlyMode")
	}

	if _, err := ctx.GetDiagnosticData(modbus.DiagSubRestartCommOption, nil); err != nil {
		t.Fatalf("GetDiagnosticData(RestartCommOption): %v", err)
	}
	if ctx.ListenOnly() {
		t.Fatalf("expected RestartCommOption to clear listen-only")
	}
}

func TestCountersClearedBySubFunction(t *testing.T) {
	ctx := newSeparate(t)
	ctx.IncrementBusMessage()
	ctx.IncrementBusException()

	if got := ctx.CountersSnapshot(); got.BusMessageCount != 1 || got.BusExceptionCount != 1 {
		t.Fatalf("unexpected counters before clear: %+v", got)
	}

	if _, err := ctx.GetDiagnosticData(modbus.DiagSubClearCounters, nil); err != nil {
		t.Fatalf("GetDiagnosticData(ClearCounters): %v", err)
	}
	if got := ctx.CountersSnapshot(); got.BusMessageCount != 0 || got.BusExceptionCount != 0 {
		t.Fatalf("expected counters cleared, got %+v", got)
	}
}

func TestEnforceTypeExceptionsReportsUnprovisionedType(t *testing.T) {
	ctx := New(Options{
		Layout:                SeparateLayout,
		HoldingRegisterCount:  10,
		ZeroMode:              true,
		EnforceTypeExceptions: true,
	})

	_, err := ctx.ReadCoils(0, 1)
	modbusErr, ok := err.(*modbus.ModbusError)
	if !ok {
		t.Fatalf("expected *modbus.ModbusError, got %T", err)
	}
	if modbusErr.Message != "object type not provisioned on this device" {
		t.Fatalf("unexpected message: %q", modbusErr.Message)
	}
}
