package environment

import "errors"

// Domain errors for the environment package.
var (
	// ErrInvalidConfig is returned when the environment configuration is inconsistent.
	ErrInvalidConfig = errors.New("environment: invalid config")
)
