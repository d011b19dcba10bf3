package modbus

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tbrandon/mbserver"
	"go.bug.st/serial"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

const (
	defaultTimeout  = 500 * time.Millisecond
	defaultBaudRate = 9600
	rtuHeaderLen    = 3
	rtuExceptionLen = 5
	rtuWriteEchoLen = 8
)

// RTUConfig describes a serial register bus.
type RTUConfig struct {
	Device   string        `yaml:"device"`
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	Parity   string        `yaml:"parity"`
	StopBits int           `yaml:"stop_bits"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Logger defines the logging interface used by the adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// serialPort is the subset of serial.Port used by the adapter.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// RTU is the serial register protocol adapter. One RTU owns one serial
// device and may address many slave units on that bus.
type RTU struct {
	cfg    RTUConfig
	open   func(device string, mode *serial.Mode) (serialPort, error)
	port   serialPort
	logger Logger
}

// NewRTU creates an RTU adapter. The port is opened by Connect.
func NewRTU(cfg RTUConfig) *RTU {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &RTU{cfg: cfg, open: openSerial, logger: noopLogger{}}
}

// SetLogger sets the logger for the adapter.
func (r *RTU) SetLogger(logger Logger) {
	r.logger = logger
}

func openSerial(device string, mode *serial.Mode) (serialPort, error) {
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Protocol implements bridges.Adapter.
func (r *RTU) Protocol() string { return "modbus_rtu" }

func (r *RTU) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: r.cfg.BaudRate,
		DataBits: r.cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch r.cfg.Parity {
	case "even", "E":
		mode.Parity = serial.EvenParity
	case "odd", "O":
		mode.Parity = serial.OddParity
	}
	if r.cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

// Connect opens the serial device.
func (r *RTU) Connect(_ context.Context) error {
	if r.port != nil {
		return nil
	}
	p, err := r.open(r.cfg.Device, r.mode())
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", bridges.ErrTransportClosed, r.cfg.Device, err)
	}
	r.port = p
	return nil
}

// Close closes the serial device.
func (r *RTU) Close() error {
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

// Read implements bridges.Adapter.
func (r *RTU) Read(ctx context.Context, addr bridges.Address) (float64, error) {
	fn, req, err := readRequest(addr)
	if err != nil {
		return 0, err
	}
	data, err := r.transact(ctx, addr.Unit, fn, req)
	if err != nil {
		return 0, err
	}
	return decodeReadResponse(addr, data)
}

// Write implements bridges.Adapter.
func (r *RTU) Write(ctx context.Context, addr bridges.Address, value float64) error {
	fn, req, err := writeRequest(addr, value)
	if err != nil {
		return err
	}
	data, err := r.transact(ctx, addr.Unit, fn, req)
	if err != nil {
		return err
	}
	return checkWriteEcho(fn, req, data)
}

func (r *RTU) transact(ctx context.Context, unit, fn byte, req []byte) ([]byte, error) {
	if r.port == nil {
		return nil, bridges.ErrTransportClosed
	}
	deadline := operationDeadline(ctx, r.cfg.Timeout)

	// Drop any late reply left over from a previous timed-out request. If
	// that fails, a stray reply is still rejected by the CRC and unit checks.
	if err := r.port.ResetInputBuffer(); err != nil {
		r.logger.Debug("flushing serial input", "device", r.cfg.Device, "error", err)
	}

	frame := &mbserver.RTUFrame{Address: unit, Function: fn, Data: req}
	if _, err := r.port.Write(frame.Bytes()); err != nil {
		r.Close() //nolint:errcheck // reopened by the store on reconnect
		return nil, fmt.Errorf("%w: %w", bridges.ErrTransportClosed, err)
	}

	header := make([]byte, rtuHeaderLen)
	if err := r.readFull(header, deadline); err != nil {
		return nil, err
	}

	total, err := rtuFrameLength(header)
	if err != nil {
		return nil, err
	}
	packet := make([]byte, total)
	copy(packet, header)
	if err := r.readFull(packet[rtuHeaderLen:], deadline); err != nil {
		return nil, err
	}

	resp, err := mbserver.NewRTUFrame(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bridges.ErrMalformedResponse, err)
	}
	if resp.Address != unit {
		return nil, fmt.Errorf("%w: reply from unit %d, expected %d", bridges.ErrMalformedResponse, resp.Address, unit)
	}
	if err := checkFunction(fn, resp.Function, resp.Data); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// readFull fills buf before deadline. The serial driver returns (0, nil)
// when its read timeout expires, which is reported as ErrTimeout.
func (r *RTU) readFull(buf []byte, deadline time.Time) error {
	for filled := 0; filled < len(buf); {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return bridges.ErrTimeout
		}
		if err := r.port.SetReadTimeout(remaining); err != nil {
			r.Close() //nolint:errcheck // reopened by the store on reconnect
			return fmt.Errorf("%w: %w", bridges.ErrTransportClosed, err)
		}
		n, err := r.port.Read(buf[filled:])
		if err != nil {
			r.Close() //nolint:errcheck // reopened by the store on reconnect
			return fmt.Errorf("%w: %w", bridges.ErrTransportClosed, err)
		}
		if n == 0 {
			return bridges.ErrTimeout
		}
		filled += n
	}
	return nil
}

// rtuFrameLength returns the full length of a reply given its first three bytes.
func rtuFrameLength(header []byte) (int, error) {
	fn := header[1]
	switch {
	case fn&exceptionFlag != 0:
		return rtuExceptionLen, nil
	case fn >= fnReadCoils && fn <= fnReadInputRegisters:
		return rtuHeaderLen + int(header[2]) + 2, nil
	case fn == fnWriteSingleCoil, fn == fnWriteSingleRegister, fn == fnWriteMultipleRegisters:
		return rtuWriteEchoLen, nil
	default:
		return 0, fmt.Errorf("%w: unexpected function 0x%02X", bridges.ErrMalformedResponse, fn)
	}
}

// operationDeadline is the earlier of the context deadline and now+timeout.
func operationDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
