package modbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

// Function codes.
const (
	fnReadCoils              byte = 0x01
	fnReadDiscreteInputs     byte = 0x02
	fnReadHoldingRegisters   byte = 0x03
	fnReadInputRegisters     byte = 0x04
	fnWriteSingleCoil        byte = 0x05
	fnWriteSingleRegister    byte = 0x06
	fnWriteMultipleRegisters byte = 0x10

	exceptionFlag byte   = 0x80
	coilOn        uint16 = 0xFF00
)

// exceptionNames maps Modbus exception codes to readable text.
var exceptionNames = map[byte]string{
	0x01: "illegal function",
	0x02: "illegal data address",
	0x03: "illegal data value",
	0x04: "server device failure",
	0x06: "server device busy",
	0x0B: "gateway target failed to respond",
}

func registerCount(t bridges.DataType) uint16 {
	if t.Width() == 4 {
		return 2
	}
	return 1
}

// readRequest builds the PDU (function code and data) to read addr.
func readRequest(addr bridges.Address) (byte, []byte, error) {
	var fn byte
	qty := uint16(1)

	switch addr.Table {
	case bridges.TableCoil:
		fn = fnReadCoils
	case bridges.TableDiscreteInput:
		fn = fnReadDiscreteInputs
	case bridges.TableHoldingRegister:
		fn = fnReadHoldingRegisters
		qty = registerCount(addr.DataType())
	case bridges.TableInputRegister:
		fn = fnReadInputRegisters
		qty = registerCount(addr.DataType())
	default:
		return 0, nil, fmt.Errorf("%w: modbus table %q", bridges.ErrUnsupportedAddress, addr.Table)
	}

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr.Register)
	binary.BigEndian.PutUint16(data[2:4], qty)
	return fn, data, nil
}

// decodeReadResponse extracts the value from a read response PDU body.
func decodeReadResponse(addr bridges.Address, data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: short read response", bridges.ErrMalformedResponse)
	}
	count := int(data[0])
	if len(data) != count+1 {
		return 0, fmt.Errorf("%w: byte count %d but %d bytes follow", bridges.ErrMalformedResponse, count, len(data)-1)
	}
	payload := data[1:]

	switch addr.Table {
	case bridges.TableCoil, bridges.TableDiscreteInput:
		return float64(payload[0] & 0x01), nil
	default:
		want := int(registerCount(addr.DataType())) * 2
		if len(payload) < want {
			return 0, fmt.Errorf("%w: want %d register bytes, got %d", bridges.ErrMalformedResponse, want, len(payload))
		}
		return decodeRegisters(payload[:want], addr.DataType(), addr.Bit), nil
	}
}

func decodeRegisters(b []byte, t bridges.DataType, bit int) float64 {
	switch t {
	case bridges.TypeBool:
		return float64((binary.BigEndian.Uint16(b) >> uint(bit&0x0F)) & 0x01)
	case bridges.TypeInt16:
		return float64(int16(binary.BigEndian.Uint16(b)))
	case bridges.TypeInt32:
		return float64(int32(binary.BigEndian.Uint32(b)))
	case bridges.TypeUint32:
		return float64(binary.BigEndian.Uint32(b))
	case bridges.TypeFloat32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	default:
		return float64(binary.BigEndian.Uint16(b))
	}
}

// writeRequest builds the PDU that sets addr to value.
func writeRequest(addr bridges.Address, value float64) (byte, []byte, error) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr.Register)

	switch addr.Table {
	case bridges.TableCoil:
		if value != 0 {
			binary.BigEndian.PutUint16(data[2:4], coilOn)
		}
		return fnWriteSingleCoil, data, nil

	case bridges.TableHoldingRegister:
		t := addr.DataType()
		switch {
		case t == bridges.TypeBool && addr.Bit != 0:
			return 0, nil, fmt.Errorf("%w: bit writes inside holding registers", bridges.ErrUnsupportedAddress)
		case t.Width() == 4:
			raw := make([]byte, 4)
			switch t {
			case bridges.TypeFloat32:
				binary.BigEndian.PutUint32(raw, math.Float32bits(float32(value)))
			case bridges.TypeInt32:
				binary.BigEndian.PutUint32(raw, uint32(int32(value)))
			default:
				binary.BigEndian.PutUint32(raw, uint32(value))
			}
			binary.BigEndian.PutUint16(data[2:4], 2)
			data = append(data, 4)
			data = append(data, raw...)
			return fnWriteMultipleRegisters, data, nil
		case t == bridges.TypeInt16:
			binary.BigEndian.PutUint16(data[2:4], uint16(int16(value)))
		case t == bridges.TypeBool:
			if value != 0 {
				binary.BigEndian.PutUint16(data[2:4], 1)
			}
		default:
			binary.BigEndian.PutUint16(data[2:4], uint16(value))
		}
		return fnWriteSingleRegister, data, nil

	default:
		return 0, nil, fmt.Errorf("%w: %s is read-only", bridges.ErrUnsupportedAddress, addr.Table)
	}
}

// checkFunction validates the function code of a response against the
// request, turning exception responses into ErrDeviceException.
func checkFunction(reqFn, respFn byte, data []byte) error {
	if respFn == reqFn|exceptionFlag {
		code := byte(0)
		if len(data) > 0 {
			code = data[0]
		}
		name, ok := exceptionNames[code]
		if !ok {
			name = "unknown"
		}
		return fmt.Errorf("%w: exception 0x%02X (%s)", bridges.ErrDeviceException, code, name)
	}
	if respFn != reqFn {
		return fmt.Errorf("%w: function 0x%02X in reply to 0x%02X", bridges.ErrMalformedResponse, respFn, reqFn)
	}
	return nil
}

// checkWriteEcho validates a write response. Single writes echo the request
// body; multiple-register writes echo the start address and quantity.
func checkWriteEcho(fn byte, req, resp []byte) error {
	want := req
	if fn == fnWriteMultipleRegisters {
		want = req[:4]
	}
	if !bytes.Equal(want, resp) {
		return fmt.Errorf("%w: write echo mismatch", bridges.ErrMalformedResponse)
	}
	return nil
}
