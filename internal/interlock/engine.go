package interlock

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Rule makes Downstream depend on Upstream running.
type Rule struct {
	Upstream   string `yaml:"upstream" json:"upstream"`
	Downstream string `yaml:"downstream" json:"downstream"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
}

// StateSource reports whether an equipment unit is confirmed running.
// The equipment Manager implements it.
type StateSource interface {
	IsRunning(name string) (bool, error)
}

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine evaluates interlock rules. It is safe for concurrent use.
type Engine struct {
	state  StateSource
	logger Logger

	mu         sync.RWMutex
	rules      []Rule
	upstreamOf map[string][]string
}

// New validates rules and returns an engine that reads equipment state
// from state.
func New(state StateSource, rules []Rule) (*Engine, error) {
	e := &Engine{state: state, logger: noopLogger{}}
	if err := e.SetRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetRules replaces the rule set. Invalid sets are rejected whole and the
// previous rules stay in force.
func (e *Engine) SetRules(rules []Rule) error {
	upstreamOf, err := index(rules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rules = append([]Rule(nil), rules...)
	e.upstreamOf = upstreamOf
	e.mu.Unlock()

	e.logger.Info("interlock rules loaded", "rules", len(rules), "guarded", len(upstreamOf))
	return nil
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// CanStart reports whether every enabled rule guarding name is satisfied.
func (e *Engine) CanStart(name string) bool {
	return len(e.BlockedBy(name)) == 0
}

// BlockedBy returns the upstream units, sorted, that currently keep name
// from starting. An upstream whose state cannot be read counts as stopped.
func (e *Engine) BlockedBy(name string) []string {
	e.mu.RLock()
	upstream := e.upstreamOf[name]
	e.mu.RUnlock()

	var blocked []string
	for _, up := range upstream {
		running, err := e.state.IsRunning(up)
		if err != nil {
			e.logger.Debug("interlock upstream unreadable", "downstream", name, "upstream", up, "error", err)
		}
		if err != nil || !running {
			blocked = append(blocked, up)
		}
	}
	return blocked
}

// index validates rules and maps each downstream to its enabled upstreams.
func index(rules []Rule) (map[string][]string, error) {
	upstreamOf := make(map[string][]string)
	seen := make(map[Rule]struct{}, len(rules))
	for i, r := range rules {
		switch {
		case r.Upstream == "" || r.Downstream == "":
			return nil, fmt.Errorf("%w: rule %d needs upstream and downstream", ErrInvalidRule, i)
		case r.Upstream == r.Downstream:
			return nil, fmt.Errorf("%w: %s cannot guard itself", ErrInvalidRule, r.Upstream)
		}
		if !r.Enabled {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		upstreamOf[r.Downstream] = append(upstreamOf[r.Downstream], r.Upstream)
	}
	for _, ups := range upstreamOf {
		sort.Strings(ups)
	}
	if loop := findCycle(upstreamOf); loop != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(loop, " -> "))
	}
	return upstreamOf, nil
}

// findCycle returns one dependency loop, or nil.
func findCycle(upstreamOf map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(upstreamOf))
	var path []string

	var visit func(n string) []string
	visit = func(n string) []string {
		switch state[n] {
		case visiting:
			for i, p := range path {
				if p == n {
					return append(append([]string(nil), path[i:]...), n)
				}
			}
		case done:
			return nil
		}
		state[n] = visiting
		path = append(path, n)
		for _, up := range upstreamOf[n] {
			if loop := visit(up); loop != nil {
				return loop
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return nil
	}

	names := make([]string, 0, len(upstreamOf))
	for n := range upstreamOf {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if loop := visit(n); loop != nil {
			return loop
		}
	}
	return nil
}
