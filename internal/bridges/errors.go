package bridges

import "errors"

// Transport and protocol errors shared by all adapters.
var (
	// ErrTimeout is returned when the device did not answer within the
	// operation deadline. The transport may still be usable.
	ErrTimeout = errors.New("bridges: operation timed out")

	// ErrTransportClosed is returned when the underlying serial port or
	// socket is closed or failed. The store reconnects on a backoff.
	ErrTransportClosed = errors.New("bridges: transport closed")

	// ErrMalformedResponse is returned when a reply fails framing, checksum
	// or length validation.
	ErrMalformedResponse = errors.New("bridges: malformed response")

	// ErrDeviceException is returned when the device explicitly rejected the
	// request (for example a Modbus exception response).
	ErrDeviceException = errors.New("bridges: device exception")

	// ErrUnsupportedAddress is returned for addresses the adapter cannot serve.
	ErrUnsupportedAddress = errors.New("bridges: unsupported address")
)

// ErrorKind is a stable, machine-readable classification of an adapter error.
type ErrorKind string

// Error kinds reported in metrics and status messages.
const (
	KindNone              ErrorKind = "none"
	KindTimeout           ErrorKind = "timeout"
	KindTransportClosed   ErrorKind = "transport_closed"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindDeviceException   ErrorKind = "device_exception"
	KindUnsupported       ErrorKind = "unsupported_address"
	KindOther             ErrorKind = "other"
)

// Classify maps an error returned by an adapter to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransportClosed):
		return KindTransportClosed
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrDeviceException):
		return KindDeviceException
	case errors.Is(err, ErrUnsupportedAddress):
		return KindUnsupported
	default:
		return KindOther
	}
}
