package equipment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
)

// Default manager settings.
const (
	defaultDebounceCycles = 3
	defaultCommandTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Manager and its controllers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives controller health figures.
type Metrics interface {
	IncRestart(actor string)
	SetEquipmentError(equipment, kind string)
}

type noopMetrics struct{}

func (noopMetrics) IncRestart(string)                {}
func (noopMetrics) SetEquipmentError(string, string) {}

// Publisher receives change notifications. *events.Bus implements it.
type Publisher interface {
	Publish(t events.Type, subject string, payload any) events.Event
}

type noopPublisher struct{}

func (noopPublisher) Publish(t events.Type, subject string, payload any) events.Event {
	return events.Event{Type: t, Subject: subject, Payload: payload}
}

// BlockedPayload is published when a start request is rejected.
type BlockedPayload struct {
	Equipment string   `json:"equipment"`
	BlockedBy []string `json:"blocked_by"`
	Source    Source   `json:"source"`
}

// Options tunes the manager. Zero values take defaults.
type Options struct {
	// DebounceCycles applies to definitions that leave DebounceCycles at zero.
	DebounceCycles int

	// CommandTimeout bounds one output write and the wait for a controller
	// to accept a command.
	CommandTimeout time.Duration

	// RestartDelay is the pause before a crashed controller is restarted.
	RestartDelay time.Duration
}

// Manager hosts one supervised Controller per equipment unit and exposes
// the command and query interface. All public methods are thread-safe.
type Manager struct {
	store       PointStore
	opts        Options
	controllers map[string]*Controller
	sup         *supervisor.Supervisor

	mu       sync.RWMutex
	statuses map[string]Status

	ilMu      sync.RWMutex
	interlock Interlock

	logger    Logger
	metrics   Metrics
	publisher Publisher
	now       func() time.Time
	running   atomic.Bool
}

// NewManager validates the definitions and builds one controller each.
// Controllers start with Start.
func NewManager(store PointStore, defs []Definition, opts Options) (*Manager, error) {
	if opts.DebounceCycles <= 0 {
		opts.DebounceCycles = defaultDebounceCycles
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}

	m := &Manager{
		store:       store,
		opts:        opts,
		controllers: make(map[string]*Controller, len(defs)),
		sup:         supervisor.New(),
		statuses:    make(map[string]Status, len(defs)),
		logger:      noopLogger{},
		metrics:     noopMetrics{},
		publisher:   noopPublisher{},
		now:         time.Now,
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.controllers[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate equipment %s", ErrInvalidDefinition, def.Name)
		}
		if def.ModeSource == nil {
			def.ModeSource = SoftwareManaged{Initial: ModeAuto}
		}
		if def.DebounceCycles == 0 {
			def.DebounceCycles = opts.DebounceCycles
		}
		c := newController(def, m)
		m.controllers[def.Name] = c
		m.statuses[def.Name] = c.status()
	}
	return m, nil
}

// SetLogger sets the logger for the manager, its controllers and supervisor.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	m.sup.SetLogger(logger)
}

// SetMetrics sets the metrics sink.
func (m *Manager) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// SetPublisher sets the change-notification sink.
func (m *Manager) SetPublisher(p Publisher) {
	m.publisher = p
}

// SetInterlock wires the interlock engine. It may be called while running.
func (m *Manager) SetInterlock(il Interlock) {
	m.ilMu.Lock()
	defer m.ilMu.Unlock()
	m.interlock = il
}

func (m *Manager) interlockEngine() Interlock {
	m.ilMu.RLock()
	defer m.ilMu.RUnlock()
	return m.interlock
}

// Start launches every controller under the supervisor. Controllers stop
// when ctx is cancelled; Wait blocks until they have.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("equipment: manager already started")
	}
	for _, name := range m.Names() {
		c := m.controllers[name]
		actor := "equipment/" + name
		err := m.sup.Go(ctx, supervisor.Config{
			Name:         actor,
			Run:          c.run,
			RestartDelay: m.opts.RestartDelay,
			OnRestart: func(attempt int, cause error) {
				m.metrics.IncRestart(actor)
			},
		})
		if err != nil {
			return fmt.Errorf("starting controller %s: %w", name, err)
		}
	}
	m.logger.Info("equipment controllers started", "count", len(m.controllers))
	return nil
}

// Wait blocks until every controller has stopped.
func (m *Manager) Wait() {
	m.sup.Wait()
	m.running.Store(false)
}

// Supervisor exposes restart bookkeeping for status reporting.
func (m *Manager) Supervisor() *supervisor.Supervisor {
	return m.sup
}

// TurnOn records the intent to run name. It is rejected with a
// *BlockedError when the interlock engine refuses the start.
func (m *Manager) TurnOn(ctx context.Context, name string, src Source) (Status, error) {
	return m.send(ctx, name, cmdTurnOn, src)
}

// TurnOff records the intent to stop name.
func (m *Manager) TurnOff(ctx context.Context, name string, src Source) (Status, error) {
	return m.send(ctx, name, cmdTurnOff, src)
}

// SetAuto puts name in auto mode and clears commanded_on.
func (m *Manager) SetAuto(ctx context.Context, name string, src Source) (Status, error) {
	return m.send(ctx, name, cmdSetAuto, src)
}

// SetManual puts name in manual mode.
func (m *Manager) SetManual(ctx context.Context, name string, src Source) (Status, error) {
	return m.send(ctx, name, cmdSetManual, src)
}

func (m *Manager) send(ctx context.Context, name string, kind commandKind, src Source) (Status, error) {
	c, ok := m.controllers[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !m.running.Load() {
		return Status{}, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	// The controller may be finishing its own write before it takes ours.
	ctx, cancel := context.WithTimeout(ctx, 2*m.opts.CommandTimeout)
	defer cancel()

	cmd := command{kind: kind, source: src, reply: make(chan result, 1)}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return Status{}, fmt.Errorf("%w: %s %s: %w", ErrNotRunning, kind, name, ctx.Err())
	}
	select {
	case r := <-cmd.reply:
		return r.status, r.err
	case <-ctx.Done():
		return Status{}, fmt.Errorf("%w: %s %s: %w", ErrNotRunning, kind, name, ctx.Err())
	}
}

// Status returns the latest converged status of name.
func (m *Manager) Status(name string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return st, nil
}

// List returns every status sorted by name.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every equipment name in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.controllers))
	for n := range m.controllers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definition returns the configuration of name.
func (m *Manager) Definition(name string) (Definition, bool) {
	c, ok := m.controllers[name]
	if !ok {
		return Definition{}, false
	}
	return c.def, true
}

// IsRunning reports whether name is confirmed running: it has processed at
// least one sweep, its feedback says running, and its points are not stale.
func (m *Manager) IsRunning(name string) (bool, error) {
	st, err := m.Status(name)
	if err != nil {
		return false, err
	}
	return st.Sweep > 0 && st.IsRunning && st.Error != ErrorTimeout, nil
}

// update stores a controller's status and publishes it when it changed.
func (m *Manager) update(st Status, changed bool) Status {
	m.mu.Lock()
	old := m.statuses[st.Name]
	if changed || old.UpdatedAt.IsZero() {
		st.UpdatedAt = m.now()
	} else {
		st.UpdatedAt = old.UpdatedAt
	}
	m.statuses[st.Name] = st
	m.mu.Unlock()

	if changed {
		m.publisher.Publish(events.TypeEquipmentStatus, st.Name, st)
		if st.Error != old.Error {
			m.metrics.SetEquipmentError(st.Name, string(st.Error))
		}
	}
	return st
}

func (m *Manager) publishBlocked(name string, blockedBy []string, src Source) {
	m.publisher.Publish(events.TypeEquipmentBlocked, name, BlockedPayload{
		Equipment: name,
		BlockedBy: blockedBy,
		Source:    src,
	})
}
