package equipment

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the equipment package.
var (
	// ErrNotFound is returned when an equipment name is not configured.
	ErrNotFound = errors.New("equipment: not found")

	// ErrInvalidDefinition is returned when an equipment definition is inconsistent.
	ErrInvalidDefinition = errors.New("equipment: invalid definition")

	// ErrInterlocked is matched by *BlockedError.
	ErrInterlocked = errors.New("equipment: interlocked")

	// ErrPanelControlled is returned for mode changes while the physical
	// mode switch is in manual.
	ErrPanelControlled = errors.New("equipment: panel-controlled")

	// ErrModeLocked is returned by SetManual while a wired mode switch holds
	// the equipment in auto.
	ErrModeLocked = errors.New("equipment: mode set by hardware switch")

	// ErrNotRunning is returned when a command arrives before Start or after shutdown.
	ErrNotRunning = errors.New("equipment: controller not running")
)

// BlockedError reports a start request rejected by the interlock engine.
type BlockedError struct {
	Equipment string
	BlockedBy []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("equipment: %s interlocked, waiting on %s", e.Equipment, strings.Join(e.BlockedBy, ", "))
}

// Is makes errors.Is(err, ErrInterlocked) true.
func (e *BlockedError) Is(target error) bool {
	return target == ErrInterlocked
}
