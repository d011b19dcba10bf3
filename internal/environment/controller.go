package environment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asecurityteam/rolling"

	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
)

const defaultCommandTimeout = 5 * time.Second

// noStep marks that no step has been activated yet.
const noStep = -1

var errStoreGone = errors.New("environment: refresh subscription closed")

// PointSource delivers refreshed snapshots. *datapoint.Store implements it.
type PointSource interface {
	Subscribe() (<-chan *datapoint.Snapshot, func())
	Latest() *datapoint.Snapshot
}

// Equipment is the part of the equipment Manager the controller drives.
type Equipment interface {
	Status(name string) (equipment.Status, error)
	SetAuto(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	TurnOn(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
	TurnOff(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)
}

// Logger defines the logging interface used by the controller.
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

// Metrics receives controller restarts.
type Metrics interface {
	IncRestart(actor string)
}

type noopMetrics struct{}

func (noopMetrics) IncRestart(string) {}

// Publisher receives step changes. *events.Bus implements it.
type Publisher interface {
	Publish(t events.Type, subject string, payload any) events.Event
}

type noopPublisher struct{}

func (noopPublisher) Publish(t events.Type, subject string, payload any) events.Event {
	return events.Event{Type: t, Subject: subject, Payload: payload}
}

// Status is the externally visible state of the controller.
type Status struct {
	// Step is the index of the active step in the configuration, -1 before
	// the first activation.
	Step   int     `json:"step"`
	Target float64 `json:"target"`

	Temperature   float64 `json:"temperature"`
	TemperatureOK bool    `json:"temperature_ok"`
	Humidity      float64 `json:"humidity"`
	HumidityOK    bool    `json:"humidity_ok"`

	// PumpsInhibited is set while humidity keeps pumps off.
	PumpsInhibited bool `json:"pumps_inhibited"`

	// PanelControlled lists members skipped because their panel switch is
	// in manual.
	PanelControlled []string `json:"panel_controlled"`

	// Blocked lists members whose start was refused by an interlock.
	Blocked []string `json:"blocked"`

	SwitchedAt time.Time `json:"switched_at"`
}

// Controller is the environment controller. Evaluations are serialized;
// Status is safe to call at any time.
type Controller struct {
	cfg    Config
	points PointSource
	equip  Equipment

	logger         Logger
	metrics        Metrics
	publisher      Publisher
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	commandTimeout time.Duration

	evalMu      sync.Mutex
	temperature *smoother
	humidity    *smoother

	mu     sync.RWMutex
	status Status
}

// New validates cfg and builds a controller.
func New(points PointSource, equip Equipment, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:            cfg,
		points:         points,
		equip:          equip,
		logger:         noopLogger{},
		metrics:        noopMetrics{},
		publisher:      noopPublisher{},
		now:            time.Now,
		sleep:          sleepCtx,
		commandTimeout: defaultCommandTimeout,
		temperature:    newSmoother(cfg.SmoothingWindow),
		humidity:       newSmoother(cfg.SmoothingWindow),
		status:         Status{Step: noStep},
	}, nil
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetMetrics sets the metrics sink.
func (c *Controller) SetMetrics(m Metrics) {
	c.metrics = m
}

// SetPublisher sets the change-notification sink.
func (c *Controller) SetPublisher(p Publisher) {
	c.publisher = p
}

// SetCommandTimeout bounds each equipment command.
func (c *Controller) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		c.commandTimeout = d
	}
}

// Start runs the controller under sup as the "environment" actor.
func (c *Controller) Start(ctx context.Context, sup *supervisor.Supervisor) error {
	return sup.Go(ctx, supervisor.Config{
		Name: "environment",
		Run:  c.Run,
		OnRestart: func(int, error) {
			c.metrics.IncRestart("environment")
		},
	})
}

// Run evaluates every refreshed snapshot until ctx is cancelled. Snapshots
// that arrive while a staggered start is in progress are coalesced.
func (c *Controller) Run(ctx context.Context) error {
	updates, cancel := c.points.Subscribe()
	defer cancel()

	if snap := c.points.Latest(); snap != nil {
		c.Evaluate(ctx, snap)
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
			c.Evaluate(ctx, snap)
		}
	}
}

// Status returns the state after the last evaluation.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	st.PanelControlled = append([]string(nil), st.PanelControlled...)
	st.Blocked = append([]string(nil), st.Blocked...)
	return st
}

// Evaluate runs one control step against snap.
func (c *Controller) Evaluate(ctx context.Context, snap *datapoint.Snapshot) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	now := c.now()
	prev := c.Status()
	next := prev
	next.PanelControlled, next.Blocked = nil, nil

	next.Temperature, next.TemperatureOK = c.temperature.observe(average(snap, c.cfg.TemperaturePoints))
	if len(c.cfg.HumidityPoints) > 0 {
		next.Humidity, next.HumidityOK = c.humidity.observe(average(snap, c.cfg.HumidityPoints))
	}
	next.PumpsInhibited = c.pumpsInhibited(next)

	activated := false
	if want, ok := c.selectStep(next); ok && want != next.Step {
		dwelling := next.Step != noStep && now.Sub(next.SwitchedAt) < c.cfg.DwellTime
		if dwelling {
			c.logger.Debug("environment step change held by dwell",
				"from", next.Step,
				"to", want,
				"remaining", c.cfg.DwellTime-now.Sub(next.SwitchedAt),
			)
		} else {
			c.logger.Info("environment step changed",
				"from", next.Step,
				"to", want,
				"target", c.cfg.Steps[want].Target,
				"temperature", next.Temperature,
			)
			next.Step = want
			next.Target = c.cfg.Steps[want].Target
			next.SwitchedAt = now
			activated = true
		}
	}

	if next.PumpsInhibited != prev.PumpsInhibited {
		c.logger.Info("environment pump inhibit changed",
			"inhibited", next.PumpsInhibited,
			"humidity", next.Humidity,
			"humidity_ok", next.HumidityOK,
		)
	}

	if next.Step != noStep {
		c.reconcile(ctx, &next, activated)
	}

	c.mu.Lock()
	c.status = next
	c.mu.Unlock()

	if activated {
		c.publisher.Publish(events.TypeEnvironmentStep, "environment", next)
	}
}

// selectStep returns the lowest step whose target is at or above the
// temperature, or the highest step when the temperature is above them all.
// Without a temperature the current step holds.
func (c *Controller) selectStep(st Status) (int, bool) {
	if !st.TemperatureOK {
		return 0, false
	}
	ladder := c.cfg.ladder()
	if len(ladder) == 0 {
		return 0, false
	}
	for _, i := range ladder {
		if c.cfg.Steps[i].Target >= st.Temperature {
			return i, true
		}
	}
	return ladder[len(ladder)-1], true
}

// pumpsInhibited reports whether humidity keeps pumps off. Unknown
// humidity inhibits when a band is configured.
func (c *Controller) pumpsInhibited(st Status) bool {
	if c.cfg.HumidityMin == nil && c.cfg.HumidityMax == nil {
		return false
	}
	if !st.HumidityOK {
		return true
	}
	if c.cfg.HumidityMin != nil && st.Humidity < *c.cfg.HumidityMin {
		return true
	}
	if c.cfg.HumidityMax != nil && st.Humidity > *c.cfg.HumidityMax {
		return true
	}
	return false
}

// reconcile brings every member in line with the active step. On
// activation, members of the step are put in auto first; otherwise members
// an operator placed in manual are left alone.
func (c *Controller) reconcile(ctx context.Context, st *Status, activated bool) {
	step := c.cfg.Steps[st.Step]
	wanted := make(map[string]bool)
	for _, n := range step.Fans {
		wanted[n] = true
	}
	if !st.PumpsInhibited {
		for _, n := range step.Pumps {
			wanted[n] = true
		}
	}

	starts := 0
	for _, name := range c.cfg.Members() {
		if ctx.Err() != nil {
			return
		}
		es, err := c.equip.Status(name)
		if err != nil {
			c.logger.Warn("environment member unavailable", "equipment", name, "error", err)
			continue
		}
		if es.PanelControlled {
			st.PanelControlled = append(st.PanelControlled, name)
			continue
		}

		if !wanted[name] {
			if es.Mode == equipment.ModeAuto && es.CommandedOn {
				c.command(ctx, name, c.equip.TurnOff)
			}
			continue
		}

		if es.Mode != equipment.ModeAuto {
			if !activated {
				continue
			}
			if !c.command(ctx, name, c.equip.SetAuto) {
				continue
			}
		} else if es.CommandedOn {
			continue
		}

		if starts > 0 && c.cfg.StaggerDelay > 0 {
			if err := c.sleep(ctx, c.cfg.StaggerDelay); err != nil {
				return
			}
		}
		starts++
		if blocked := c.start(ctx, name); blocked {
			st.Blocked = append(st.Blocked, name)
		}
	}
}

// start turns name on and reports whether an interlock refused it.
func (c *Controller) start(ctx context.Context, name string) bool {
	cctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	_, err := c.equip.TurnOn(cctx, name, equipment.SourceEnvironment)
	switch {
	case err == nil:
		return false
	case errors.Is(err, equipment.ErrInterlocked):
		c.logger.Warn("environment start blocked", "equipment", name, "error", err)
		return true
	default:
		c.logger.Warn("environment start failed", "equipment", name, "error", err)
		return false
	}
}

type commandFunc func(ctx context.Context, name string, src equipment.Source) (equipment.Status, error)

func (c *Controller) command(ctx context.Context, name string, fn commandFunc) bool {
	cctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	if _, err := fn(cctx, name, equipment.SourceEnvironment); err != nil {
		c.logger.Warn("environment command failed", "equipment", name, "error", err)
		return false
	}
	return true
}

// average returns the mean of the usable readings of names.
func average(snap *datapoint.Snapshot, names []string) (float64, bool) {
	sum, n := 0.0, 0
	for _, name := range names {
		r, ok := snap.Get(name)
		if !ok || !r.Usable() {
			continue
		}
		sum += r.Value
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// smoother averages the last few usable readings. The window starts out
// zero-filled, so the sum is divided by the readings actually held.
type smoother struct {
	window *rolling.PointPolicy
	size   int
	held   int
}

func newSmoother(size int) *smoother {
	if size < 1 {
		size = 1
	}
	return &smoother{window: rolling.NewPointPolicy(rolling.NewWindow(size)), size: size}
}

// observe adds v when ok and returns the smoothed value. A missing reading
// reports unknown without touching the window.
func (s *smoother) observe(v float64, ok bool) (float64, bool) {
	if !ok {
		return 0, false
	}
	s.window.Append(v)
	if s.held < s.size {
		s.held++
	}
	return s.window.Reduce(rolling.Sum) / float64(s.held), true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
