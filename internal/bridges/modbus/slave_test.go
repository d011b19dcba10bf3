package modbus

import (
	"encoding/binary"
	"sync"
)

// fakeSlave answers Modbus PDUs from in-memory tables.
type fakeSlave struct {
	mu        sync.Mutex
	coils     map[uint16]bool
	registers map[uint16]uint16
	exception byte
}

func newFakeSlave() *fakeSlave {
	return &fakeSlave{
		coils:     make(map[uint16]bool),
		registers: make(map[uint16]uint16),
	}
}

func (s *fakeSlave) handle(fn byte, data []byte) (byte, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exception != 0 {
		return fn | exceptionFlag, []byte{s.exception}
	}

	reg := binary.BigEndian.Uint16(data[0:2])
	switch fn {
	case fnReadCoils, fnReadDiscreteInputs:
		v := byte(0)
		if s.coils[reg] {
			v = 1
		}
		return fn, []byte{1, v}
	case fnReadHoldingRegisters, fnReadInputRegisters:
		qty := binary.BigEndian.Uint16(data[2:4])
		out := []byte{byte(qty * 2)}
		for i := uint16(0); i < qty; i++ {
			out = binary.BigEndian.AppendUint16(out, s.registers[reg+i])
		}
		return fn, out
	case fnWriteSingleCoil:
		s.coils[reg] = binary.BigEndian.Uint16(data[2:4]) == coilOn
		return fn, append([]byte(nil), data...)
	case fnWriteSingleRegister:
		s.registers[reg] = binary.BigEndian.Uint16(data[2:4])
		return fn, append([]byte(nil), data...)
	case fnWriteMultipleRegisters:
		qty := binary.BigEndian.Uint16(data[2:4])
		for i := uint16(0); i < qty; i++ {
			s.registers[reg+i] = binary.BigEndian.Uint16(data[5+2*i:])
		}
		return fn, append([]byte(nil), data[:4]...)
	default:
		return fn | exceptionFlag, []byte{0x01}
	}
}

func (s *fakeSlave) coil(reg uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coils[reg]
}

func (s *fakeSlave) register(reg uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[reg]
}
