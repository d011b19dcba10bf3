package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrUnknownCommand is returned for a command name the target does not accept.
	ErrUnknownCommand = errors.New("gateway: unknown command")

	// ErrBadPayload is returned when a command body cannot be decoded.
	ErrBadPayload = errors.New("gateway: malformed command payload")
)
