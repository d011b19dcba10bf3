package plant

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/bridges"
	"github.com/nerrad567/gray-logic-farm/internal/bridges/modbus"
	"github.com/nerrad567/gray-logic-farm/internal/bridges/s7"
	"github.com/nerrad567/gray-logic-farm/internal/bridges/sim"
	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/environment"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/interlock"
)

// Protocol selects the adapter for a port.
type Protocol string

const (
	ProtocolRTU Protocol = "rtu"
	ProtocolTCP Protocol = "tcp"
	ProtocolS7  Protocol = "s7"
	ProtocolSim Protocol = "sim"
)

// Plant is the parsed plant description.
type Plant struct {
	// DebounceDefaults maps an equipment type to its debounce window in
	// sweeps. Types not listed use the engine default.
	DebounceDefaults map[string]int `yaml:"debounce_defaults"`

	Ports       []Port              `yaml:"ports"`
	Points      []datapoint.Point   `yaml:"points"`
	Equipment   []Equipment         `yaml:"equipment"`
	Interlocks  []interlock.Rule    `yaml:"interlocks"`
	Alarms      []alarm.Rule        `yaml:"alarms"`
	Environment *environment.Config `yaml:"environment"`
}

// Port is one field connection.
type Port struct {
	Name     string           `yaml:"name"`
	Protocol Protocol         `yaml:"protocol"`
	Serial   modbus.RTUConfig `yaml:"serial"`
	TCP      modbus.TCPConfig `yaml:"tcp"`
	S7       s7.Config        `yaml:"s7"`
	Sim      SimConfig        `yaml:"sim"`
}

// SimConfig seeds a simulator port.
type SimConfig struct {
	Initial map[string]float64 `yaml:"initial"`

	// Links makes writes to an output key also set feedback keys.
	Links map[string][]string `yaml:"links"`
}

// Equipment is one unit with its role bindings.
type Equipment struct {
	Name  string            `yaml:"name"`
	Type  string            `yaml:"type"`
	Roles map[string]string `yaml:"roles"`

	// Mode is the initial software mode when no mode switch is wired.
	Mode equipment.Mode `yaml:"mode"`

	// DebounceCycles overrides the type default when positive.
	DebounceCycles int `yaml:"debounce_cycles"`
}

// Load reads and validates a plant file.
func Load(path string) (*Plant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plant file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a plant description. Unknown keys are
// rejected so that typos do not silently disable a rule.
func Parse(data []byte) (*Plant, error) {
	var p Plant
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing plant file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate cross-checks every reference in the description and reports
// all problems at once.
func (p *Plant) Validate() error {
	v := &validator{}

	ports := make(map[string]Port, len(p.Ports))
	for _, port := range p.Ports {
		if _, dup := ports[port.Name]; dup {
			v.addf("duplicate port %q", port.Name)
			continue
		}
		ports[port.Name] = port
		v.add(port.validate())
	}

	points := make(map[string]datapoint.Point, len(p.Points))
	for _, pt := range p.Points {
		if _, dup := points[pt.Name]; dup {
			v.addf("duplicate point %q", pt.Name)
			continue
		}
		points[pt.Name] = pt
		if err := pt.Validate(); err != nil {
			v.add(err)
			continue
		}
		if pt.IO == datapoint.IOVirtual {
			continue
		}
		port, ok := ports[pt.Port]
		if !ok {
			v.addf("point %s: unknown port %q", pt.Name, pt.Port)
			continue
		}
		if port.Protocol == ProtocolSim && pt.Address.Key == "" {
			v.addf("point %s: simulator address needs a key", pt.Name)
		}
	}

	for typ, n := range p.DebounceDefaults {
		if n < 1 {
			v.addf("debounce_defaults.%s must be at least 1", typ)
		}
	}

	units := make(map[string]struct{}, len(p.Equipment))
	for _, eq := range p.Equipment {
		if _, dup := units[eq.Name]; dup {
			v.addf("duplicate equipment %q", eq.Name)
			continue
		}
		units[eq.Name] = struct{}{}
		eq.validate(v, points)
	}

	for i, r := range p.Interlocks {
		for _, n := range []string{r.Upstream, r.Downstream} {
			if _, ok := units[n]; !ok {
				v.addf("interlock %d: unknown equipment %q", i, n)
			}
		}
	}

	for _, r := range p.Alarms {
		if err := r.Validate(); err != nil {
			v.add(err)
			continue
		}
		for _, s := range r.Sirens {
			if _, ok := units[s]; !ok {
				v.addf("alarm %s: unknown siren %q", r.Name, s)
			}
		}
		for _, c := range r.Conditions {
			if _, ok := points[c.Point]; c.Point != "" && !ok {
				v.addf("alarm %s: unknown point %q", r.Name, c.Point)
			}
			if _, ok := units[c.Equipment]; c.Equipment != "" && !ok {
				v.addf("alarm %s: unknown equipment %q", r.Name, c.Equipment)
			}
		}
	}

	if env := p.Environment; env != nil {
		v.add(env.Validate())
		for _, n := range append(append([]string(nil), env.TemperaturePoints...), env.HumidityPoints...) {
			if _, ok := points[n]; !ok {
				v.addf("environment: unknown point %q", n)
			}
		}
		for _, n := range env.Members() {
			if _, ok := units[n]; !ok {
				v.addf("environment: unknown equipment %q", n)
			}
		}
	}

	return v.err()
}

func (port Port) validate() error {
	switch port.Protocol {
	case ProtocolRTU:
		if port.Serial.Device == "" {
			return fmt.Errorf("port %s: serial.device is required", port.Name)
		}
	case ProtocolTCP:
		if port.TCP.Address == "" {
			return fmt.Errorf("port %s: tcp.address is required", port.Name)
		}
	case ProtocolS7:
		if port.S7.Address == "" {
			return fmt.Errorf("port %s: s7.address is required", port.Name)
		}
	case ProtocolSim:
	default:
		return fmt.Errorf("port %s: unknown protocol %q", port.Name, port.Protocol)
	}
	if port.Name == "" {
		return fmt.Errorf("port name is required")
	}
	return nil
}

func (eq Equipment) validate(v *validator, points map[string]datapoint.Point) {
	for role, name := range eq.Roles {
		switch role {
		case equipment.RoleOutput, equipment.RoleFeedback, equipment.RoleModeSwitch:
		default:
			v.addf("equipment %s: unknown role %q", eq.Name, role)
			continue
		}
		pt, ok := points[name]
		if !ok {
			v.addf("equipment %s: %s: unknown point %q", eq.Name, role, name)
			continue
		}
		if !pt.IO.Digital() && pt.IO != datapoint.IOVirtual {
			v.addf("equipment %s: %s point %s must be digital", eq.Name, role, name)
		}
		if role == equipment.RoleOutput && !pt.Writable() {
			v.addf("equipment %s: %s point %s is not writable", eq.Name, role, name)
		}
	}
	if _, hasSwitch := eq.Roles[equipment.RoleModeSwitch]; hasSwitch && eq.Mode != "" {
		v.addf("equipment %s: mode is set by %s, drop the mode key", eq.Name, equipment.RoleModeSwitch)
	}
	def := eq.definition(nil)
	v.add(def.Validate())
}

// definition resolves role bindings, mode source and debounce.
func (eq Equipment) definition(debounceDefaults map[string]int) equipment.Definition {
	def := equipment.Definition{
		Name:           eq.Name,
		Type:           eq.Type,
		Output:         eq.Roles[equipment.RoleOutput],
		Feedback:       eq.Roles[equipment.RoleFeedback],
		DebounceCycles: eq.DebounceCycles,
	}
	if sw, ok := eq.Roles[equipment.RoleModeSwitch]; ok {
		def.ModeSource = equipment.HardwareManaged{Point: sw}
	} else {
		mode := eq.Mode
		if mode == "" {
			mode = equipment.ModeAuto
		}
		def.ModeSource = equipment.SoftwareManaged{Initial: mode}
	}
	if def.DebounceCycles == 0 {
		def.DebounceCycles = debounceDefaults[eq.Type]
	}
	return def
}

// Definitions returns the equipment definitions with type debounce
// defaults applied. Units of a type with no default keep zero, which the
// equipment Manager replaces with its own default.
func (p *Plant) Definitions() []equipment.Definition {
	out := make([]equipment.Definition, 0, len(p.Equipment))
	for _, eq := range p.Equipment {
		out = append(out, eq.definition(p.DebounceDefaults))
	}
	return out
}

// Adapters builds one adapter per port. Simulator ports are returned
// separately as well so that demos and tests can drive them.
func (p *Plant) Adapters() ([]datapoint.Port, map[string]*sim.Adapter) {
	ports := make([]datapoint.Port, 0, len(p.Ports))
	sims := make(map[string]*sim.Adapter)
	for _, port := range p.Ports {
		var a bridges.Adapter
		switch port.Protocol {
		case ProtocolRTU:
			a = modbus.NewRTU(port.Serial)
		case ProtocolTCP:
			a = modbus.NewTCP(port.TCP)
		case ProtocolS7:
			a = s7.New(port.S7)
		case ProtocolSim:
			s := sim.New(port.Sim.Initial)
			outputs := make([]string, 0, len(port.Sim.Links))
			for out := range port.Sim.Links {
				outputs = append(outputs, out)
			}
			sort.Strings(outputs)
			for _, out := range outputs {
				for _, fb := range port.Sim.Links[out] {
					s.Link(out, fb)
				}
			}
			sims[port.Name] = s
			a = s
		}
		ports = append(ports, datapoint.Port{Name: port.Name, Adapter: a})
	}
	return ports, sims
}

// StoreOptions derives store options from the engine cadence.
func StoreOptions(poll time.Duration, staleCycles int) datapoint.Options {
	return datapoint.Options{
		PollInterval: poll,
		StaleAfter:   time.Duration(staleCycles) * poll,
	}
}

// validator collects every problem found.
type validator struct {
	errs []string
}

func (v *validator) add(err error) {
	if err != nil {
		v.errs = append(v.errs, err.Error())
	}
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPlant, strings.Join(v.errs, "; "))
}
