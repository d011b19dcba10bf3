// Package bridges defines the protocol adapter boundary of the control core.
//
// An Adapter reads and writes single physical values over one wire
// protocol. Implementations live in sub-packages:
//
//   - modbus: serial register protocol (RTU) and TCP register protocol
//   - s7: PLC memory protocol (Siemens S7 data blocks, merkers, I/O images)
//   - sim: in-memory simulator for commissioning and tests
//
// Adapters traffic in raw logical values only. Engineering-unit scaling and
// normally-closed inversion are applied by the data point store at the
// boundary, never by controllers.
//
// Every adapter reports failures with one of the sentinel errors in this
// package so the store can classify them without knowing the protocol:
// ErrTimeout, ErrTransportClosed, ErrMalformedResponse or ErrDeviceException.
package bridges
