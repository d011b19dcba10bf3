package influxdb

import "errors"

var (
	// ErrDisabled is returned by New when telemetry is switched off.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrUnreachable means the server did not answer a ping or answered unhealthy.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrNotReady means Connect has not succeeded yet or the client is closed.
	ErrNotReady = errors.New("influxdb: client not ready")
)
