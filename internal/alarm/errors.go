package alarm

import "errors"

// Domain errors for the alarm package.
var (
	// ErrRuleNotFound is returned when a rule name is not configured.
	ErrRuleNotFound = errors.New("alarm: rule not found")

	// ErrInvalidRule is returned when a rule definition is inconsistent.
	ErrInvalidRule = errors.New("alarm: invalid rule")

	// ErrNotActive is returned when muting or acknowledging a rule that is
	// not raised.
	ErrNotActive = errors.New("alarm: rule is not active")

	// ErrInvalidDuration is returned for a mute of zero or negative length.
	ErrInvalidDuration = errors.New("alarm: mute duration must be positive")
)
