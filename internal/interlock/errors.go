package interlock

import "errors"

// Domain errors for the interlock package.
var (
	// ErrInvalidRule is returned when a rule is missing a name or names
	// the same unit on both ends.
	ErrInvalidRule = errors.New("interlock: invalid rule")

	// ErrCycle is returned when enabled rules form a loop, which would
	// keep every unit on the loop from ever starting.
	ErrCycle = errors.New("interlock: rules form a cycle")
)
