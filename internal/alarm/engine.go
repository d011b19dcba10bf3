package alarm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
)

const defaultCommandTimeout = 5 * time.Second

var errStoreGone = errors.New("alarm: refresh subscription closed")

// PointSource delivers refreshed snapshots. *datapoint.Store implements it.
type PointSource interface {
	Subscribe() (<-chan *datapoint.Snapshot, func())
	Latest() *datapoint.Snapshot
}

// Equipment is the part of the equipment Manager the engine uses: state
// queries for equipment conditions and commands for sirens.
type Equipment interface {
	Status(name string) (equipment.Status, error)
	TurnOn(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	TurnOff(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
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

// Metrics receives alarm figures.
type Metrics interface {
	SetActiveAlarms(n int)
	IncRestart(actor string)
}

type noopMetrics struct{}

func (noopMetrics) SetActiveAlarms(int) {}
func (noopMetrics) IncRestart(string)   {}

// Publisher receives alarm state changes. *events.Bus implements it.
type Publisher interface {
	Publish(t events.Type, subject string, payload any) events.Event
}

type noopPublisher struct{}

func (noopPublisher) Publish(t events.Type, subject string, payload any) events.Event {
	return events.Event{Type: t, Subject: subject, Payload: payload}
}

type ruleState struct {
	rule       Rule
	state      State
	triggered  bool
	mutedUntil time.Time
	since      time.Time
}

func (rs *ruleState) status() Status {
	return Status{
		Rule:       rs.rule.Name,
		State:      rs.state,
		Triggered:  rs.triggered,
		MutedUntil: rs.mutedUntil,
		Since:      rs.since,
		Sirens:     append([]string(nil), rs.rule.Sirens...),
	}
}

// Engine evaluates alarm rules and drives sirens. Public methods are safe
// for concurrent use.
type Engine struct {
	points PointSource
	equip  Equipment

	logger         Logger
	metrics        Metrics
	publisher      Publisher
	now            func() time.Time
	commandTimeout time.Duration

	mu     sync.RWMutex
	rules  map[string]*ruleState
	order  []string
	sirens []string

	// driveMu serializes state changes with the siren commands they cause.
	driveMu sync.Mutex
	sirenOn map[string]bool
}

// New validates rules and builds an engine. Sirens start in an unknown
// state and are commanded on the first evaluation.
func New(points PointSource, equip Equipment, rules []Rule) (*Engine, error) {
	e := &Engine{
		points:         points,
		equip:          equip,
		logger:         noopLogger{},
		metrics:        noopMetrics{},
		publisher:      noopPublisher{},
		now:            time.Now,
		commandTimeout: defaultCommandTimeout,
		rules:          make(map[string]*ruleState, len(rules)),
		sirenOn:        make(map[string]bool),
	}

	sirens := make(map[string]struct{})
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := e.rules[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule %s", ErrInvalidRule, r.Name)
		}
		e.rules[r.Name] = &ruleState{rule: r, state: StateInactive}
		e.order = append(e.order, r.Name)
		for _, s := range r.Sirens {
			sirens[s] = struct{}{}
		}
	}
	sort.Strings(e.order)
	for s := range sirens {
		e.sirens = append(e.sirens, s)
	}
	sort.Strings(e.sirens)
	return e, nil
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetMetrics sets the metrics sink.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// SetPublisher sets the change-notification sink.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// SetCommandTimeout bounds each siren command.
func (e *Engine) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		e.commandTimeout = d
	}
}

// Start runs the engine under sup as the "alarm" actor.
func (e *Engine) Start(ctx context.Context, sup *supervisor.Supervisor) error {
	return sup.Go(ctx, supervisor.Config{
		Name: "alarm",
		Run:  e.Run,
		OnRestart: func(int, error) {
			e.metrics.IncRestart("alarm")
		},
	})
}

// Run evaluates every refreshed snapshot until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	updates, cancel := e.points.Subscribe()
	defer cancel()

	if snap := e.points.Latest(); snap != nil {
		e.Evaluate(ctx, snap)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStoreGone
			}
			e.Evaluate(ctx, snap)
		}
	}
}

// Evaluate runs every rule against snap, advances their state machines and
// brings the sirens in line.
func (e *Engine) Evaluate(ctx context.Context, snap *datapoint.Snapshot) {
	e.driveMu.Lock()
	defer e.driveMu.Unlock()

	now := e.now()
	var changed []Status

	e.mu.Lock()
	for _, name := range e.order {
		rs := e.rules[name]
		if e.advance(rs, e.triggered(rs.rule, snap), now) {
			changed = append(changed, rs.status())
		}
	}
	e.mu.Unlock()

	e.notify(changed)
	e.driveSirens(ctx)
}

// MuteAlarm silences a raised rule for d. Muting a muted rule moves its
// expiry.
func (e *Engine) MuteAlarm(ctx context.Context, name string, d time.Duration) (Status, error) {
	if d <= 0 {
		return Status{}, ErrInvalidDuration
	}

	e.driveMu.Lock()
	defer e.driveMu.Unlock()

	e.mu.Lock()
	rs, ok := e.rules[name]
	if !ok {
		e.mu.Unlock()
		return Status{}, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	if !rs.state.raised() && rs.state != StateMuted {
		st := rs.status()
		e.mu.Unlock()
		return st, fmt.Errorf("%w: %s is %s", ErrNotActive, name, st.State)
	}
	now := e.now()
	rs.mutedUntil = now.Add(d)
	if rs.state != StateMuted {
		e.transition(rs, StateMuted, now, "mute")
	}
	st := rs.status()
	e.mu.Unlock()

	e.logger.Info("alarm muted", "rule", name, "until", st.MutedUntil)
	e.notify([]Status{st})
	e.driveSirens(ctx)
	return st, nil
}

// AcknowledgeAlarm confirms a raised rule. A rule whose conditions still
// hold moves to acknowledged until they clear; otherwise it is inactive.
func (e *Engine) AcknowledgeAlarm(ctx context.Context, name string) (Status, error) {
	e.driveMu.Lock()
	defer e.driveMu.Unlock()

	e.mu.Lock()
	rs, ok := e.rules[name]
	if !ok {
		e.mu.Unlock()
		return Status{}, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	switch rs.state {
	case StateInactive:
		st := rs.status()
		e.mu.Unlock()
		return st, fmt.Errorf("%w: %s", ErrNotActive, name)
	case StateAcknowledged:
		st := rs.status()
		e.mu.Unlock()
		return st, nil
	}
	next := StateInactive
	if rs.triggered {
		next = StateAcknowledged
	}
	rs.mutedUntil = time.Time{}
	e.transition(rs, next, e.now(), "acknowledge")
	st := rs.status()
	e.mu.Unlock()

	e.notify([]Status{st})
	e.driveSirens(ctx)
	return st, nil
}

// State returns the status of one rule.
func (e *Engine) State(name string) (Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rs, ok := e.rules[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	return rs.status(), nil
}

// States returns the status of every rule sorted by name.
func (e *Engine) States() []Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Status, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.rules[name].status())
	}
	return out
}

// triggered combines the rule's conditions against snap.
func (e *Engine) triggered(r Rule, snap *datapoint.Snapshot) bool {
	for _, c := range r.Conditions {
		hit := e.holds(c, snap)
		if r.Logic == LogicAny && hit {
			return true
		}
		if r.Logic == LogicAll && !hit {
			return false
		}
	}
	return r.Logic == LogicAll
}

// holds evaluates one condition. Anything unknown evaluates to false.
func (e *Engine) holds(c Condition, snap *datapoint.Snapshot) bool {
	if c.Point != "" {
		v, ok := sensorValue(snap, c.Point)
		if !ok {
			return false
		}
		hit, err := c.Comparator.test(v, c.Threshold)
		return err == nil && hit
	}

	st, err := e.equip.Status(c.Equipment)
	if err != nil || st.Sweep == 0 {
		return false
	}
	hit, err := c.Predicate.test(st)
	return err == nil && hit
}

// advance applies one evaluation to rs and reports whether its state changed.
// The caller holds mu.
func (e *Engine) advance(rs *ruleState, triggered bool, now time.Time) bool {
	rs.triggered = triggered
	prev := rs.state

	switch rs.state {
	case StateInactive:
		if triggered {
			e.transition(rs, StateActive, now, "triggered")
		}
	case StateActive:
		if !triggered {
			e.transition(rs, e.cleared(rs), now, "cleared")
		}
	case StateAcknowledgePending:
		if triggered {
			e.transition(rs, StateActive, now, "triggered")
		}
	case StateAcknowledged:
		if !triggered {
			e.transition(rs, StateInactive, now, "cleared")
		}
	case StateMuted:
		switch {
		case !now.Before(rs.mutedUntil):
			rs.mutedUntil = time.Time{}
			next := StateActive
			if !triggered {
				next = e.cleared(rs)
			}
			e.transition(rs, next, now, "mute expired")
		case !triggered && rs.rule.Clear == ClearAuto:
			rs.mutedUntil = time.Time{}
			e.transition(rs, StateInactive, now, "cleared")
		}
	}
	return rs.state != prev
}

// cleared is where a raised rule goes when its conditions clear.
func (e *Engine) cleared(rs *ruleState) State {
	if rs.rule.Clear == ClearManual {
		return StateAcknowledgePending
	}
	return StateInactive
}

func (e *Engine) transition(rs *ruleState, next State, now time.Time, reason string) {
	e.logger.Info("alarm state changed",
		"rule", rs.rule.Name,
		"from", rs.state,
		"to", next,
		"reason", reason,
		"triggered", rs.triggered,
	)
	rs.state = next
	rs.since = now
}

func (e *Engine) notify(changed []Status) {
	if len(changed) == 0 {
		return
	}
	for _, st := range changed {
		e.publisher.Publish(events.TypeAlarmState, st.Rule, st)
	}

	e.mu.RLock()
	n := 0
	for _, rs := range e.rules {
		if rs.state != StateInactive {
			n++
		}
	}
	e.mu.RUnlock()
	e.metrics.SetActiveAlarms(n)
}

// driveSirens commands every siren whose wanted state differs from the last
// one it accepted. A rejected command is retried on the next evaluation.
// The caller holds driveMu.
func (e *Engine) driveSirens(ctx context.Context) {
	want := make(map[string]bool, len(e.sirens))
	e.mu.RLock()
	for _, rs := range e.rules {
		if !rs.state.raised() {
			continue
		}
		for _, s := range rs.rule.Sirens {
			want[s] = true
		}
	}
	e.mu.RUnlock()

	for _, siren := range e.sirens {
		on := want[siren]
		if cur, known := e.sirenOn[siren]; known && cur == on {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
		var err error
		if on {
			_, err = e.equip.TurnOn(cctx, siren, equipment.SourceAlarm)
		} else {
			_, err = e.equip.TurnOff(cctx, siren, equipment.SourceAlarm)
		}
		cancel()

		if err != nil {
			e.logger.Warn("siren command failed", "siren", siren, "on", on, "error", err)
			delete(e.sirenOn, siren)
			continue
		}
		e.sirenOn[siren] = on
		e.logger.Info("siren commanded", "siren", siren, "on", on)
	}
}
