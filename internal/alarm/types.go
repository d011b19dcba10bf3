package alarm

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
)

// Logic combines a rule's conditions.
type Logic string

const (
	LogicAny Logic = "any"
	LogicAll Logic = "all"
)

// ClearMode decides what happens when a raised rule's conditions clear.
type ClearMode string

const (
	// ClearAuto returns the rule to inactive as soon as it clears.
	ClearAuto ClearMode = "auto"
	// ClearManual latches the rule until an operator acknowledges it.
	ClearManual ClearMode = "manual"
)

// State is the externally visible state of a rule.
type State string

const (
	StateInactive           State = "inactive"
	StateActive             State = "active"
	StateMuted              State = "muted"
	StateAcknowledged       State = "acknowledged"
	StateAcknowledgePending State = "acknowledge_pending"
)

// raised reports whether the state sounds the siren.
func (s State) raised() bool {
	return s == StateActive || s == StateAcknowledgePending
}

// Comparator is a sensor threshold test.
type Comparator string

const (
	Above        Comparator = ">"
	AboveOrEqual Comparator = ">="
	Below        Comparator = "<"
	BelowOrEqual Comparator = "<="
	Equal        Comparator = "=="
	NotEqual     Comparator = "!="
)

func (c Comparator) test(v, threshold float64) (bool, error) {
	switch c {
	case Above:
		return v > threshold, nil
	case AboveOrEqual:
		return v >= threshold, nil
	case Below:
		return v < threshold, nil
	case BelowOrEqual:
		return v <= threshold, nil
	case Equal:
		return v == threshold, nil
	case NotEqual:
		return v != threshold, nil
	}
	return false, fmt.Errorf("%w: unknown comparator %q", ErrInvalidRule, c)
}

// Predicate is an equipment state test.
type Predicate string

const (
	PredicateOff        Predicate = "off"
	PredicateNotRunning Predicate = "not_running"
	PredicateError      Predicate = "error"
)

func (p Predicate) test(st equipment.Status) (bool, error) {
	switch p {
	case PredicateOff:
		return !st.ActualOn, nil
	case PredicateNotRunning:
		return !st.IsRunning, nil
	case PredicateError:
		return st.Error != equipment.ErrorNone, nil
	}
	return false, fmt.Errorf("%w: unknown predicate %q", ErrInvalidRule, p)
}

// Condition is either a sensor threshold test (Point set) or an equipment
// state test (Equipment set).
type Condition struct {
	Point      string     `yaml:"point" json:"point,omitempty"`
	Comparator Comparator `yaml:"comparator" json:"comparator,omitempty"`
	Threshold  float64    `yaml:"threshold" json:"threshold,omitempty"`

	Equipment string    `yaml:"equipment" json:"equipment,omitempty"`
	Predicate Predicate `yaml:"predicate" json:"predicate,omitempty"`
}

// Validate checks the condition in isolation.
func (c Condition) Validate() error {
	switch {
	case c.Point != "" && c.Equipment != "":
		return fmt.Errorf("%w: condition names both point %s and equipment %s", ErrInvalidRule, c.Point, c.Equipment)
	case c.Point != "":
		_, err := c.Comparator.test(0, 0)
		return err
	case c.Equipment != "":
		_, err := c.Predicate.test(equipment.Status{})
		return err
	}
	return fmt.Errorf("%w: condition needs a point or an equipment", ErrInvalidRule)
}

// Rule is one alarm definition.
type Rule struct {
	Name       string      `yaml:"name"`
	Sirens     []string    `yaml:"sirens"`
	Logic      Logic       `yaml:"logic"`
	Clear      ClearMode   `yaml:"clear"`
	Conditions []Condition `yaml:"conditions"`
}

// Validate checks the rule in isolation.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Logic != LogicAny && r.Logic != LogicAll {
		return fmt.Errorf("%w: %s: logic must be any or all", ErrInvalidRule, r.Name)
	}
	if r.Clear != ClearAuto && r.Clear != ClearManual {
		return fmt.Errorf("%w: %s: clear must be auto or manual", ErrInvalidRule, r.Name)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: %s: at least one condition is required", ErrInvalidRule, r.Name)
	}
	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
	}
	return nil
}

// Status is the externally visible state of one rule.
type Status struct {
	Rule       string    `json:"rule"`
	State      State     `json:"state"`
	Triggered  bool      `json:"triggered"`
	MutedUntil time.Time `json:"muted_until,omitzero"`
	Since      time.Time `json:"since"`
	Sirens     []string  `json:"sirens"`
}

// sensorValue returns a usable reading or false. Unknown, stale and
// invalid points never satisfy a condition.
func sensorValue(snap *datapoint.Snapshot, name string) (float64, bool) {
	if snap == nil {
		return 0, false
	}
	r, ok := snap.Get(name)
	if !ok || !r.Usable() {
		return 0, false
	}
	return r.Value, true
}
