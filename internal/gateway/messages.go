package gateway

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
)

// Command names accepted on command topics.
const (
	CommandOn          = "on"
	CommandOff         = "off"
	CommandAuto        = "auto"
	CommandManual      = "manual"
	CommandMute        = "mute"
	CommandAcknowledge = "acknowledge"
)

// CommandMessage is the body of a command topic message.
type CommandMessage struct {
	// ID correlates the ack. One is generated when empty.
	ID string `json:"id"`

	Command string `json:"command"`

	// Duration is the mute length for alarm mute commands, e.g. "15m".
	Duration string `json:"duration,omitempty"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the command was applied.
	AckAccepted AckStatus = "accepted"

	// AckBlocked means an interlock refused a start.
	AckBlocked AckStatus = "blocked"

	// AckRejected means the command was refused in the current state.
	AckRejected AckStatus = "rejected"

	// AckNotFound means the target is not configured.
	AckNotFound AckStatus = "not_found"

	// AckFailed means the command could not be carried out.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on farm/ack/{id}.
type AckMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Name      string    `json:"name"`
	Command   string    `json:"command,omitempty"`
	Status    AckStatus `json:"status"`
	BlockedBy []string  `json:"blocked_by,omitempty"`
	Error     string    `json:"error,omitempty"`

	// State is the target's status after the command, when accepted.
	State any `json:"state,omitempty"`
}

// classify maps a command error onto an ack status.
func classify(err error) (AckStatus, []string) {
	var blocked *equipment.BlockedError
	switch {
	case err == nil:
		return AckAccepted, nil
	case errors.As(err, &blocked):
		return AckBlocked, blocked.BlockedBy
	case errors.Is(err, equipment.ErrNotFound), errors.Is(err, alarm.ErrRuleNotFound):
		return AckNotFound, nil
	case errors.Is(err, equipment.ErrPanelControlled),
		errors.Is(err, equipment.ErrModeLocked),
		errors.Is(err, alarm.ErrNotActive),
		errors.Is(err, alarm.ErrInvalidDuration),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrBadPayload):
		return AckRejected, nil
	default:
		return AckFailed, nil
	}
}
