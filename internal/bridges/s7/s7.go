// Package s7 implements the PLC memory protocol adapter on top of gos7.
//
// Values are addressed by memory area (DB, M, I, Q), byte offset and, for
// bools, a bit within that byte. Bool writes are read-modify-write so the
// neighbouring bits of the byte are preserved.
package s7

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/robinson/gos7"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

const defaultTimeout = time.Second

// Config describes a PLC endpoint.
type Config struct {
	Address string        `yaml:"address"`
	Rack    int           `yaml:"rack"`
	Slot    int           `yaml:"slot"`
	Timeout time.Duration `yaml:"timeout"`
}

// plcClient is the subset of gos7.Client used by the adapter.
type plcClient interface {
	AGReadDB(dbNumber int, start int, size int, buffer []byte) error
	AGWriteDB(dbNumber int, start int, size int, buffer []byte) error
	AGReadMB(start int, size int, buffer []byte) error
	AGWriteMB(start int, size int, buffer []byte) error
	AGReadEB(start int, size int, buffer []byte) error
	AGReadAB(start int, size int, buffer []byte) error
	AGWriteAB(start int, size int, buffer []byte) error
}

// Adapter is the S7 protocol adapter.
type Adapter struct {
	cfg     Config
	connect func(cfg Config) (plcClient, func() error, error)
	client  plcClient
	closeFn func() error
	helper  gos7.Helper
}

// New creates an S7 adapter. The session is opened by Connect.
func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{cfg: cfg, connect: dialPLC}
}

func dialPLC(cfg Config) (plcClient, func() error, error) {
	handler := gos7.NewTCPClientHandler(cfg.Address, cfg.Rack, cfg.Slot)
	handler.Timeout = cfg.Timeout
	handler.IdleTimeout = 0
	if err := handler.Connect(); err != nil {
		return nil, nil, err
	}
	return gos7.NewClient(handler), handler.Close, nil
}

// Protocol implements bridges.Adapter.
func (a *Adapter) Protocol() string { return "s7" }

// Connect opens the ISO-on-TCP session.
func (a *Adapter) Connect(_ context.Context) error {
	if a.client != nil {
		return nil
	}
	client, closeFn, err := a.connect(a.cfg)
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %w", bridges.ErrTransportClosed, a.cfg.Address, err)
	}
	a.client = client
	a.closeFn = closeFn
	return nil
}

// Close ends the session.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	var err error
	if a.closeFn != nil {
		err = a.closeFn()
	}
	a.client = nil
	a.closeFn = nil
	return err
}

// Read implements bridges.Adapter.
func (a *Adapter) Read(ctx context.Context, addr bridges.Address) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", bridges.ErrTimeout, err)
	}
	if a.client == nil {
		return 0, bridges.ErrTransportClosed
	}
	t := addr.DataType()
	buf := make([]byte, t.Width())
	if err := a.read(addr, buf); err != nil {
		return 0, err
	}
	return a.decode(buf, t, addr.Bit), nil
}

// Write implements bridges.Adapter.
func (a *Adapter) Write(ctx context.Context, addr bridges.Address, value float64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", bridges.ErrTimeout, err)
	}
	if a.client == nil {
		return bridges.ErrTransportClosed
	}
	if addr.Area == bridges.AreaInputs {
		return fmt.Errorf("%w: process inputs are read-only", bridges.ErrUnsupportedAddress)
	}

	t := addr.DataType()
	buf := make([]byte, t.Width())
	if t == bridges.TypeBool {
		if err := a.read(addr, buf); err != nil {
			return err
		}
		buf[0] = a.helper.SetBoolAt(buf[0], uint(addr.Bit&0x07), value != 0)
	} else {
		a.encode(buf, t, value)
	}
	return a.write(addr, buf)
}

func (a *Adapter) read(addr bridges.Address, buf []byte) error {
	var err error
	switch addr.Area {
	case bridges.AreaDB:
		err = a.client.AGReadDB(addr.DB, addr.Offset, len(buf), buf)
	case bridges.AreaMerker:
		err = a.client.AGReadMB(addr.Offset, len(buf), buf)
	case bridges.AreaInputs:
		err = a.client.AGReadEB(addr.Offset, len(buf), buf)
	case bridges.AreaOutputs:
		err = a.client.AGReadAB(addr.Offset, len(buf), buf)
	default:
		return fmt.Errorf("%w: s7 area %q", bridges.ErrUnsupportedAddress, addr.Area)
	}
	return a.mapError(err)
}

func (a *Adapter) write(addr bridges.Address, buf []byte) error {
	var err error
	switch addr.Area {
	case bridges.AreaDB:
		err = a.client.AGWriteDB(addr.DB, addr.Offset, len(buf), buf)
	case bridges.AreaMerker:
		err = a.client.AGWriteMB(addr.Offset, len(buf), buf)
	case bridges.AreaOutputs:
		err = a.client.AGWriteAB(addr.Offset, len(buf), buf)
	default:
		return fmt.Errorf("%w: s7 area %q", bridges.ErrUnsupportedAddress, addr.Area)
	}
	return a.mapError(err)
}

func (a *Adapter) decode(buf []byte, t bridges.DataType, bit int) float64 {
	switch t {
	case bridges.TypeBool:
		if a.helper.GetBoolAt(buf[0], uint(bit&0x07)) {
			return 1
		}
		return 0
	case bridges.TypeInt16:
		return float64(int16(binary.BigEndian.Uint16(buf)))
	case bridges.TypeUint16:
		return float64(binary.BigEndian.Uint16(buf))
	case bridges.TypeInt32:
		return float64(int32(binary.BigEndian.Uint32(buf)))
	case bridges.TypeUint32:
		return float64(binary.BigEndian.Uint32(buf))
	default:
		return float64(a.helper.GetRealAt(buf, 0))
	}
}

func (a *Adapter) encode(buf []byte, t bridges.DataType, value float64) {
	switch t {
	case bridges.TypeInt16:
		binary.BigEndian.PutUint16(buf, uint16(int16(value)))
	case bridges.TypeUint16:
		binary.BigEndian.PutUint16(buf, uint16(value))
	case bridges.TypeInt32:
		binary.BigEndian.PutUint32(buf, uint32(int32(value)))
	case bridges.TypeUint32:
		binary.BigEndian.PutUint32(buf, uint32(value))
	default:
		a.helper.SetRealAt(buf, 0, float32(value))
	}
}

// mapError classifies a gos7 error. Socket failures drop the session so the
// store reconnects; anything else is treated as a rejected request.
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		a.Close() //nolint:errcheck // reopened by the store on reconnect
		return fmt.Errorf("%w: %w", bridges.ErrTimeout, err)
	case errors.As(err, &ne), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		a.Close() //nolint:errcheck // reopened by the store on reconnect
		return fmt.Errorf("%w: %w", bridges.ErrTransportClosed, err)
	default:
		return fmt.Errorf("%w: %w", bridges.ErrDeviceException, err)
	}
}
