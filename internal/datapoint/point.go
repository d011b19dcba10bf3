package datapoint

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

// IOType is the I/O direction of a point.
type IOType string

// I/O directions.
const (
	IODigitalOutput IOType = "do"
	IODigitalInput  IOType = "di"
	IOAnalogInput   IOType = "ai"
	IOAnalogOutput  IOType = "ao"
	IOVirtual       IOType = "virtual"
)

// Valid reports whether t is a known I/O type.
func (t IOType) Valid() bool {
	switch t {
	case IODigitalOutput, IODigitalInput, IOAnalogInput, IOAnalogOutput, IOVirtual:
		return true
	}
	return false
}

// Digital reports whether values of t are logical 0/1.
func (t IOType) Digital() bool {
	return t == IODigitalOutput || t == IODigitalInput
}

// Point is the static definition of one named value.
type Point struct {
	Name    string          `yaml:"name"`
	Port    string          `yaml:"port"`
	Address bridges.Address `yaml:"address"`
	IO      IOType          `yaml:"io"`

	// Invert flips digital values at the boundary (normally-closed wiring).
	Invert bool `yaml:"invert"`

	// Scale and Offset convert raw analog values to engineering units:
	// value = raw*Scale + Offset. A zero Scale means 1.
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`

	// Min and Max bound valid values. Readings outside are flagged invalid
	// and commands outside are rejected.
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`

	// Expression makes a virtual point computed from other points.
	Expression string `yaml:"expression"`

	// Initial is the starting value of a virtual software flag.
	Initial float64 `yaml:"initial"`
}

// Validate checks the definition in isolation.
func (p *Point) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPoint)
	case !p.IO.Valid():
		return fmt.Errorf("%w: %s: unknown io type %q", ErrInvalidPoint, p.Name, p.IO)
	case p.IO != IOVirtual && p.Port == "":
		return fmt.Errorf("%w: %s: port is required", ErrInvalidPoint, p.Name)
	case p.IO != IOVirtual && p.Expression != "":
		return fmt.Errorf("%w: %s: only virtual points take an expression", ErrInvalidPoint, p.Name)
	case p.Invert && !p.IO.Digital():
		return fmt.Errorf("%w: %s: invert applies to digital points only", ErrInvalidPoint, p.Name)
	case p.Min != nil && p.Max != nil && *p.Min > *p.Max:
		return fmt.Errorf("%w: %s: min above max", ErrInvalidPoint, p.Name)
	}
	return nil
}

// Writable reports whether Command may target the point.
func (p *Point) Writable() bool {
	switch p.IO {
	case IODigitalOutput, IOAnalogOutput:
		return true
	case IOVirtual:
		return p.Expression == ""
	}
	return false
}

// computed reports whether the point is evaluated from an expression.
func (p *Point) computed() bool {
	return p.IO == IOVirtual && p.Expression != ""
}

func (p *Point) scale() float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}

// fromRaw converts an adapter value to a logical value. Digital raw values
// other than 0 and 1 are passed through untouched so they fail validation.
func (p *Point) fromRaw(raw float64) float64 {
	if p.IO.Digital() {
		if raw != 0 && raw != 1 {
			return raw
		}
		if p.Invert {
			return 1 - raw
		}
		return raw
	}
	if p.IO == IOVirtual {
		return raw
	}
	return raw*p.scale() + p.Offset
}

// toRaw converts a logical value to what the adapter writes.
func (p *Point) toRaw(v float64) float64 {
	if p.IO.Digital() {
		on := v != 0
		if p.Invert {
			on = !on
		}
		if on {
			return 1
		}
		return 0
	}
	return (v - p.Offset) / p.scale()
}

// inRange reports whether a logical value is acceptable for the point.
func (p *Point) inRange(v float64) bool {
	if p.IO.Digital() && v != 0 && v != 1 {
		return false
	}
	if p.Min != nil && v < *p.Min {
		return false
	}
	if p.Max != nil && v > *p.Max {
		return false
	}
	return true
}

// Reading is the cached state of a point as seen at a given instant.
type Reading struct {
	Name  string
	Port  string
	IO    IOType
	Value float64

	// UpdatedAt is the time of the last successful read. Zero if the point
	// has never been read.
	UpdatedAt time.Time
	Age       time.Duration

	// Stale is set when the value was never read or is older than the
	// configured threshold. Callers must not trust a stale value.
	Stale bool

	// Invalid is set when the value fails range or shape validation.
	Invalid bool

	// Err is the error of the most recent read attempt, nil if it succeeded.
	Err error

	// WritePending is set when a write to the point completed after the
	// value was read. The value predates the write and must not be used to
	// judge whether the write took effect.
	WritePending bool
}

// Usable reports whether the value can be acted on.
func (r Reading) Usable() bool {
	return !r.Stale && !r.Invalid
}

// On interprets the value as a digital state.
func (r Reading) On() bool {
	return r.Value != 0
}
