package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tbrandon/mbserver"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

const (
	mbapHeaderLen = 7
	maxPDULength  = 254
)

// TCPConfig describes a TCP register endpoint.
type TCPConfig struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// TCP is the TCP register protocol adapter.
type TCP struct {
	cfg  TCPConfig
	dial func(ctx context.Context, network, address string) (net.Conn, error)
	conn net.Conn
	txID uint16
}

// NewTCP creates a TCP adapter. The socket is opened by Connect.
func NewTCP(cfg TCPConfig) *TCP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	var d net.Dialer
	return &TCP{cfg: cfg, dial: d.DialContext}
}

// Protocol implements bridges.Adapter.
func (t *TCP) Protocol() string { return "modbus_tcp" }

// Connect dials the endpoint.
func (t *TCP) Connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	conn, err := t.dial(dialCtx, "tcp", t.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", bridges.ErrTransportClosed, t.cfg.Address, err)
	}
	t.conn = conn
	return nil
}

// Close closes the socket.
func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Read implements bridges.Adapter.
func (t *TCP) Read(ctx context.Context, addr bridges.Address) (float64, error) {
	fn, req, err := readRequest(addr)
	if err != nil {
		return 0, err
	}
	data, err := t.transact(ctx, addr.Unit, fn, req)
	if err != nil {
		return 0, err
	}
	return decodeReadResponse(addr, data)
}

// Write implements bridges.Adapter.
func (t *TCP) Write(ctx context.Context, addr bridges.Address, value float64) error {
	fn, req, err := writeRequest(addr, value)
	if err != nil {
		return err
	}
	data, err := t.transact(ctx, addr.Unit, fn, req)
	if err != nil {
		return err
	}
	return checkWriteEcho(fn, req, data)
}

func (t *TCP) transact(ctx context.Context, unit, fn byte, req []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, bridges.ErrTransportClosed
	}
	if err := t.conn.SetDeadline(operationDeadline(ctx, t.cfg.Timeout)); err != nil {
		return nil, t.netError(err)
	}

	t.txID++
	id := t.txID
	frame := &mbserver.TCPFrame{
		TransactionIdentifier: id,
		Length:                uint16(len(req) + 2),
		Device:                unit,
		Function:              fn,
		Data:                  req,
	}
	if _, err := t.conn.Write(frame.Bytes()); err != nil {
		return nil, t.netError(err)
	}

	resp, err := t.readFrame()
	if err != nil {
		return nil, err
	}
	if resp.TransactionIdentifier != id {
		t.Close() //nolint:errcheck // reopened by the store on reconnect
		return nil, fmt.Errorf("%w: transaction %d, expected %d", bridges.ErrMalformedResponse, resp.TransactionIdentifier, id)
	}
	if resp.Device != unit {
		return nil, fmt.Errorf("%w: reply from unit %d, expected %d", bridges.ErrMalformedResponse, resp.Device, unit)
	}
	if err := checkFunction(fn, resp.Function, resp.Data); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (t *TCP) readFrame() (*mbserver.TCPFrame, error) {
	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, t.netError(err)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length > maxPDULength+1 {
		// The stream cannot be resynchronised without a reconnect.
		t.Close() //nolint:errcheck // reopened by the store on reconnect
		return nil, fmt.Errorf("%w: MBAP length %d", bridges.ErrMalformedResponse, length)
	}

	packet := make([]byte, mbapHeaderLen+length-1)
	copy(packet, header)
	if _, err := io.ReadFull(t.conn, packet[mbapHeaderLen:]); err != nil {
		return nil, t.netError(err)
	}

	frame, err := mbserver.NewTCPFrame(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bridges.ErrMalformedResponse, err)
	}
	return frame, nil
}

// netError maps socket errors to adapter errors. The connection is closed
// in every case: after a partial read the stream position is unknown.
func (t *TCP) netError(err error) error {
	t.Close() //nolint:errcheck // reopened by the store on reconnect
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", bridges.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", bridges.ErrTransportClosed, err)
}
