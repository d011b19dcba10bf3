package equipment

import (
	"fmt"
	"time"
)

// Mode is the control mode of an equipment unit.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// ErrorKind is the stable machine-readable fault classification.
type ErrorKind string

const (
	ErrorNone            ErrorKind = "none"
	ErrorTimeout         ErrorKind = "timeout"
	ErrorCommandFailed   ErrorKind = "command_failed"
	ErrorOnButNotRunning ErrorKind = "on_but_not_running"
	ErrorOffButRunning   ErrorKind = "off_but_running"
	ErrorInvalidData     ErrorKind = "invalid_data"
)

// Source identifies what triggered a change. It is carried into logs and
// events so history can be reconstructed.
type Source string

const (
	SourceOperator    Source = "operator"
	SourceSchedule    Source = "schedule"
	SourceAlarm       Source = "alarm"
	SourceEnvironment Source = "environment"
	SourceInterlock   Source = "interlock"
	SourceHardware    Source = "hardware"
	SourceController  Source = "controller"
)

// Role point names used in plant configuration.
const (
	RoleOutput     = "on_off_output"
	RoleFeedback   = "running_feedback"
	RoleModeSwitch = "auto_manual_input"
)

// ModeSource decides who owns the mode of an equipment unit. It is either
// SoftwareManaged or HardwareManaged and is resolved once at load time.
type ModeSource interface {
	modeSource()
}

// SoftwareManaged equipment keeps its mode in the controller.
type SoftwareManaged struct {
	Initial Mode
}

// HardwareManaged equipment takes its mode from a panel switch point:
// 1 means auto, 0 means manual.
type HardwareManaged struct {
	Point string
}

func (SoftwareManaged) modeSource() {}
func (HardwareManaged) modeSource() {}

// Definition is the immutable configuration of one equipment unit.
type Definition struct {
	Name string
	Type string

	// Output is the on_off_output point.
	Output string

	// Feedback is the running_feedback point. Empty when not wired, in
	// which case is_running mirrors actual_on.
	Feedback string

	ModeSource ModeSource

	// DebounceCycles is how many consecutive sweeps a fault must persist
	// before it is asserted. Zero takes the manager default.
	DebounceCycles int
}

// Validate checks the definition in isolation.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if d.Output == "" {
		return fmt.Errorf("%w: %s: %s point is required", ErrInvalidDefinition, d.Name, RoleOutput)
	}
	if d.DebounceCycles < 0 {
		return fmt.Errorf("%w: %s: negative debounce", ErrInvalidDefinition, d.Name)
	}
	switch ms := d.ModeSource.(type) {
	case nil:
	case SoftwareManaged:
		if ms.Initial != "" && ms.Initial != ModeAuto && ms.Initial != ModeManual {
			return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidDefinition, d.Name, ms.Initial)
		}
	case HardwareManaged:
		if ms.Point == "" {
			return fmt.Errorf("%w: %s: %s point is required", ErrInvalidDefinition, d.Name, RoleModeSwitch)
		}
	}
	return nil
}

// hardwareSwitch returns the mode switch point, if wired.
func (d *Definition) hardwareSwitch() (string, bool) {
	hm, ok := d.ModeSource.(HardwareManaged)
	return hm.Point, ok
}

// Status is the externally visible state of one equipment unit.
type Status struct {
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	Mode            Mode      `json:"mode"`
	CommandedOn     bool      `json:"commanded_on"`
	ActualOn        bool      `json:"actual_on"`
	IsRunning       bool      `json:"is_running"`
	Error           ErrorKind `json:"error"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Interlocked     bool      `json:"interlocked"`
	PanelControlled bool      `json:"panel_controlled"`

	// Sweep is the last store sweep the controller processed.
	Sweep     uint64    `json:"sweep"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sameState reports whether two statuses differ only in bookkeeping fields.
func (s Status) sameState(o Status) bool {
	s.Sweep, o.Sweep = 0, 0
	s.UpdatedAt, o.UpdatedAt = time.Time{}, time.Time{}
	return s == o
}

// Interlock is consulted before every start. The interlock engine
// implements it.
type Interlock interface {
	CanStart(equipment string) bool
	BlockedBy(equipment string) []string
}
