package environment

import (
	"fmt"
	"sort"
	"time"
)

// Step is one stage of the climate ladder. A step with a zero target is
// configured but skipped.
type Step struct {
	Target float64  `yaml:"target" json:"target"`
	Fans   []string `yaml:"fans" json:"fans"`
	Pumps  []string `yaml:"pumps" json:"pumps"`
}

// Config is the environment controller configuration.
type Config struct {
	TemperaturePoints []string `yaml:"temperature_points"`
	HumidityPoints    []string `yaml:"humidity_points"`
	Steps             []Step   `yaml:"steps"`

	// StaggerDelay separates consecutive start commands.
	StaggerDelay time.Duration `yaml:"stagger_delay"`

	// DwellTime is the minimum time between step switches.
	DwellTime time.Duration `yaml:"delay_between_steps"`

	// HumidityMin and HumidityMax bound the band in which pumps may run.
	// A nil bound is open.
	HumidityMin *float64 `yaml:"humidity_min"`
	HumidityMax *float64 `yaml:"humidity_max"`

	// SmoothingWindow is how many sweeps are averaged. Zero or one means
	// the latest reading is used as is.
	SmoothingWindow int `yaml:"smoothing_window"`
}

// Validate checks the configuration in isolation.
func (c *Config) Validate() error {
	if len(c.TemperaturePoints) == 0 {
		return fmt.Errorf("%w: at least one temperature point is required", ErrInvalidConfig)
	}
	if c.StaggerDelay < 0 || c.DwellTime < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if c.SmoothingWindow < 0 {
		return fmt.Errorf("%w: smoothing_window must not be negative", ErrInvalidConfig)
	}
	if c.HumidityMin != nil && c.HumidityMax != nil && *c.HumidityMin > *c.HumidityMax {
		return fmt.Errorf("%w: humidity_min above humidity_max", ErrInvalidConfig)
	}
	if (c.HumidityMin != nil || c.HumidityMax != nil) && len(c.HumidityPoints) == 0 {
		return fmt.Errorf("%w: humidity band needs humidity points", ErrInvalidConfig)
	}
	for i, s := range c.Steps {
		if s.Target < 0 {
			return fmt.Errorf("%w: step %d: negative target", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Members returns every fan and pump named by any step, sorted.
func (c *Config) Members() []string {
	seen := make(map[string]struct{})
	for _, s := range c.Steps {
		for _, n := range s.Fans {
			seen[n] = struct{}{}
		}
		for _, n := range s.Pumps {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ladder returns the indexes of active steps in ascending target order.
// Equal targets keep their configured order.
func (c *Config) ladder() []int {
	var idx []int
	for i, s := range c.Steps {
		if s.Target != 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return c.Steps[idx[a]].Target < c.Steps[idx[b]].Target
	})
	return idx
}
