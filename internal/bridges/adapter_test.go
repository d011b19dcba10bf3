package bridges

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrTimeout, KindTimeout},
		{fmt.Errorf("reading coil: %w", ErrTransportClosed), KindTransportClosed},
		{fmt.Errorf("crc: %w", ErrMalformedResponse), KindMalformedResponse},
		{fmt.Errorf("illegal address: %w", ErrDeviceException), KindDeviceException},
		{ErrUnsupportedAddress, KindUnsupported},
		{errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestAddressDataType(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want DataType
	}{
		{"coil defaults to bool", Address{Table: TableCoil}, TypeBool},
		{"holding defaults to uint16", Address{Table: TableHoldingRegister}, TypeUint16},
		{"explicit wins", Address{Table: TableInputRegister, Type: TypeFloat32}, TypeFloat32},
		{"s7 area defaults to bool", Address{Area: AreaMerker}, TypeBool},
		{"sim defaults to float", Address{Key: "t"}, TypeFloat32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.addr.DataType(); got != tt.want {
				t.Errorf("DataType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{Address{Unit: 3, Table: TableCoil, Register: 12}, "unit 3 coil 12"},
		{Address{Area: AreaDB, DB: 10, Offset: 4, Bit: 2}, "DB10.4.2"},
		{Address{Area: AreaMerker, Offset: 1, Bit: 7}, "m1.7"},
		{Address{Key: "fan1"}, "sim:fan1"},
	}
	for _, tt := range tests {
		if got := tt.addr.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
