package bridges

import (
	"context"
	"fmt"
)

// Adapter reads and writes physical values over one wire protocol.
//
// A single Adapter instance is owned by exactly one store worker, which
// serializes every call, so implementations need not support concurrent
// Read/Write. Read and Write must honour the context deadline.
type Adapter interface {
	// Protocol names the wire protocol, e.g. "modbus_rtu".
	Protocol() string

	// Connect opens the transport. It is called again after the transport
	// reports ErrTransportClosed.
	Connect(ctx context.Context) error

	// Read returns the raw logical value at addr.
	Read(ctx context.Context, addr Address) (float64, error)

	// Write sets the raw logical value at addr.
	Write(ctx context.Context, addr Address, value float64) error

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// Table selects a Modbus data table.
type Table string

// Modbus tables.
const (
	TableCoil            Table = "coil"
	TableDiscreteInput   Table = "discrete_input"
	TableInputRegister   Table = "input_register"
	TableHoldingRegister Table = "holding_register"
)

// Area selects an S7 memory area.
type Area string

// S7 memory areas.
const (
	AreaDB      Area = "db"
	AreaMerker  Area = "m"
	AreaInputs  Area = "i"
	AreaOutputs Area = "q"
)

// DataType is the on-wire encoding of a register or memory value.
type DataType string

// Supported encodings. Multi-byte values are big-endian.
const (
	TypeBool    DataType = "bool"
	TypeInt16   DataType = "int16"
	TypeUint16  DataType = "uint16"
	TypeInt32   DataType = "int32"
	TypeUint32  DataType = "uint32"
	TypeFloat32 DataType = "float32"
)

// Width returns the encoded size in bytes. Bool occupies one byte on S7 and
// one register (or a single coil) on Modbus.
func (t DataType) Width() int {
	switch t {
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt16, TypeUint16:
		return 2
	default:
		return 1
	}
}

// Address locates a value on a port. Which fields apply depends on the
// protocol of the owning port.
type Address struct {
	// Modbus
	Unit     uint8  `yaml:"unit"`
	Table    Table  `yaml:"table"`
	Register uint16 `yaml:"register"`

	// S7
	Area   Area `yaml:"area"`
	DB     int  `yaml:"db"`
	Offset int  `yaml:"offset"`

	// Bit selects one bit of a register (Modbus) or byte (S7) for bool values.
	Bit  int      `yaml:"bit"`
	Type DataType `yaml:"type"`

	// Key names the value in the simulator.
	Key string `yaml:"key"`
}

// DataType returns the configured encoding, defaulting to bool for coils and
// discrete inputs and uint16 for registers.
func (a Address) DataType() DataType {
	if a.Type != "" {
		return a.Type
	}
	switch a.Table {
	case TableCoil, TableDiscreteInput:
		return TypeBool
	case TableInputRegister, TableHoldingRegister:
		return TypeUint16
	}
	if a.Area != "" {
		return TypeBool
	}
	return TypeFloat32
}

func (a Address) String() string {
	switch {
	case a.Key != "":
		return "sim:" + a.Key
	case a.Table != "":
		return fmt.Sprintf("unit %d %s %d", a.Unit, a.Table, a.Register)
	case a.Area == AreaDB:
		return fmt.Sprintf("DB%d.%d.%d", a.DB, a.Offset, a.Bit)
	case a.Area != "":
		return fmt.Sprintf("%s%d.%d", a.Area, a.Offset, a.Bit)
	default:
		return "unset"
	}
}
