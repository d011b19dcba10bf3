package modbus

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name    string
		addr    bridges.Address
		wantFn  byte
		wantQty uint16
	}{
		{"coil", bridges.Address{Table: bridges.TableCoil, Register: 4}, fnReadCoils, 1},
		{"discrete", bridges.Address{Table: bridges.TableDiscreteInput}, fnReadDiscreteInputs, 1},
		{"holding uint16", bridges.Address{Table: bridges.TableHoldingRegister}, fnReadHoldingRegisters, 1},
		{"input float32", bridges.Address{Table: bridges.TableInputRegister, Type: bridges.TypeFloat32}, fnReadInputRegisters, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, data, err := readRequest(tt.addr)
			if err != nil {
				t.Fatalf("readRequest() error = %v", err)
			}
			if fn != tt.wantFn {
				t.Errorf("fn = 0x%02X, want 0x%02X", fn, tt.wantFn)
			}
			if got := binary.BigEndian.Uint16(data[0:2]); got != tt.addr.Register {
				t.Errorf("register = %d", got)
			}
			if got := binary.BigEndian.Uint16(data[2:4]); got != tt.wantQty {
				t.Errorf("quantity = %d, want %d", got, tt.wantQty)
			}
		})
	}

	if _, _, err := readRequest(bridges.Address{Table: "bogus"}); !errors.Is(err, bridges.ErrUnsupportedAddress) {
		t.Errorf("unknown table error = %v", err)
	}
}

func TestDecodeRegisters(t *testing.T) {
	f := make([]byte, 4)
	binary.BigEndian.PutUint32(f, math.Float32bits(23.5))

	tests := []struct {
		name string
		b    []byte
		typ  bridges.DataType
		bit  int
		want float64
	}{
		{"uint16", []byte{0x01, 0x00}, bridges.TypeUint16, 0, 256},
		{"int16 negative", []byte{0xFF, 0xFE}, bridges.TypeInt16, 0, -2},
		{"bool bit 3 set", []byte{0x00, 0x08}, bridges.TypeBool, 3, 1},
		{"bool bit 2 clear", []byte{0x00, 0x08}, bridges.TypeBool, 2, 0},
		{"int32", []byte{0xFF, 0xFF, 0xFF, 0xF6}, bridges.TypeInt32, 0, -10},
		{"float32", f, bridges.TypeFloat32, 0, 23.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeRegisters(tt.b, tt.typ, tt.bit); got != tt.want {
				t.Errorf("decodeRegisters() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeReadResponse_Malformed(t *testing.T) {
	addr := bridges.Address{Table: bridges.TableHoldingRegister, Type: bridges.TypeFloat32}
	for name, data := range map[string][]byte{
		"empty":             {},
		"count mismatch":    {4, 0x00, 0x01},
		"too few registers": {2, 0x00, 0x01},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeReadResponse(addr, data); !errors.Is(err, bridges.ErrMalformedResponse) {
				t.Errorf("error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestWriteRequest(t *testing.T) {
	t.Run("coil on", func(t *testing.T) {
		fn, data, err := writeRequest(bridges.Address{Table: bridges.TableCoil, Register: 2}, 1)
		if err != nil || fn != fnWriteSingleCoil || binary.BigEndian.Uint16(data[2:4]) != coilOn {
			t.Errorf("got fn=0x%02X data=%X err=%v", fn, data, err)
		}
	})
	t.Run("float32 uses multiple registers", func(t *testing.T) {
		fn, data, err := writeRequest(bridges.Address{Table: bridges.TableHoldingRegister, Type: bridges.TypeFloat32}, 1.5)
		if err != nil || fn != fnWriteMultipleRegisters || len(data) != 9 || data[4] != 4 {
			t.Errorf("got fn=0x%02X data=%X err=%v", fn, data, err)
		}
	})
	t.Run("discrete input is read-only", func(t *testing.T) {
		if _, _, err := writeRequest(bridges.Address{Table: bridges.TableDiscreteInput}, 1); !errors.Is(err, bridges.ErrUnsupportedAddress) {
			t.Errorf("error = %v", err)
		}
	})
}

func TestCheckFunction(t *testing.T) {
	if err := checkFunction(fnReadCoils, fnReadCoils, nil); err != nil {
		t.Errorf("matching function: %v", err)
	}
	if err := checkFunction(fnReadCoils, fnReadCoils|exceptionFlag, []byte{0x02}); !errors.Is(err, bridges.ErrDeviceException) {
		t.Errorf("exception: %v", err)
	}
	if err := checkFunction(fnReadCoils, fnReadHoldingRegisters, nil); !errors.Is(err, bridges.ErrMalformedResponse) {
		t.Errorf("mismatch: %v", err)
	}
}
