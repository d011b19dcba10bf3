package equipment

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
)

// errStoreGone ends a controller run when its refresh subscription closes
// before shutdown.
var errStoreGone = errors.New("equipment: refresh subscription closed")

// PointStore is the part of the Data Point Store a controller needs.
type PointStore interface {
	Command(ctx context.Context, name string, value float64) error
	Subscribe() (<-chan *datapoint.Snapshot, func())
	Latest() *datapoint.Snapshot
}

type commandKind int

const (
	cmdTurnOn commandKind = iota
	cmdTurnOff
	cmdSetAuto
	cmdSetManual
)

func (k commandKind) String() string {
	switch k {
	case cmdTurnOn:
		return "turn_on"
	case cmdTurnOff:
		return "turn_off"
	case cmdSetAuto:
		return "set_auto"
	case cmdSetManual:
		return "set_manual"
	}
	return "unknown"
}

type command struct {
	kind   commandKind
	source Source
	reply  chan result
}

type result struct {
	status Status
	err    error
}

// Controller is the actor for one equipment unit. Its fields are only
// touched by its own goroutine; the outside world talks to it through cmds
// and reads its state from the Manager.
type Controller struct {
	def  Definition
	mgr  *Manager
	cmds chan command

	mode            Mode
	commandedOn     bool
	actualOn        bool
	isRunning       bool
	errKind         ErrorKind
	errMsg          string
	interlocked     bool
	panelControlled bool

	writeErr  error
	debounce  *debouncer
	hydrated  bool
	lastSweep uint64
}

func newController(def Definition, mgr *Manager) *Controller {
	mode := ModeAuto
	if sm, ok := def.ModeSource.(SoftwareManaged); ok && sm.Initial != "" {
		mode = sm.Initial
	}
	return &Controller{
		def:      def,
		mgr:      mgr,
		cmds:     make(chan command),
		mode:     mode,
		errKind:  ErrorNone,
		debounce: newDebouncer(def.DebounceCycles),
	}
}

// run is the supervised actor body. After a restart the controller forgets
// its mid-cycle state and rehydrates from the next snapshot. The software
// mode flag is configuration-like and survives.
func (c *Controller) run(ctx context.Context) error {
	updates, cancel := c.mgr.store.Subscribe()
	defer cancel()

	c.hydrated = false
	c.writeErr = nil
	c.lastSweep = 0
	c.debounce.reset()

	if snap := c.mgr.store.Latest(); snap != nil {
		c.onRefresh(ctx, snap)
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
			c.onRefresh(ctx, snap)
		case cmd := <-c.cmds:
			st, err := c.handle(ctx, cmd)
			cmd.reply <- result{status: st, err: err}
		}
	}
}

// onRefresh runs one control step against a store snapshot.
func (c *Controller) onRefresh(ctx context.Context, snap *datapoint.Snapshot) {
	if snap.Sweep <= c.lastSweep {
		return
	}
	c.lastSweep = snap.Sweep
	prev := c.status()

	out, outOK := snap.Get(c.def.Output)
	stale := !outOK || out.Stale
	invalid := outOK && out.Invalid

	var fb datapoint.Reading
	fbOK := false
	if c.def.Feedback != "" {
		fb, fbOK = snap.Get(c.def.Feedback)
		stale = stale || !fbOK || fb.Stale
		invalid = invalid || (fbOK && fb.Invalid)
	}

	if sw, wired := c.def.hardwareSwitch(); wired {
		ms, ok := snap.Get(sw)
		stale = stale || !ok || ms.Stale
		invalid = invalid || (ok && ms.Invalid)
		if ok && ms.Usable() {
			next := ModeManual
			if ms.On() {
				next = ModeAuto
			}
			c.setPanel(next == ModeManual)
			c.applyMode(next, SourceHardware)
		}
	}

	if outOK && out.Usable() && !out.WritePending {
		c.setActual(out.On(), SourceHardware)
	}

	hydrating := !c.hydrated
	if hydrating {
		c.hydrated = true
		if outOK && out.Usable() {
			c.setCommanded(c.actualOn, SourceController)
		}
	}

	switch {
	case c.def.Feedback == "":
		c.setRunning(c.actualOn)
	case fbOK && fb.Usable():
		c.setRunning(fb.On())
	}

	// Upstream statuses are not settled on the hydration sweep because every
	// controller adopts its output on that same sweep. A downstream found
	// running with a stopped upstream keeps its intent for this one sweep
	// and trips on the next.
	c.checkInterlock(!hydrating)
	c.converge(ctx, SourceController)
	c.classify(stale, invalid)
	c.report(prev, snap.Sweep)
}

// handle applies one command and returns the resulting status.
func (c *Controller) handle(ctx context.Context, cmd command) (Status, error) {
	// An explicit command outranks whatever the first snapshot would imply.
	c.hydrated = true
	prev := c.status()

	var err error
	switch cmd.kind {
	case cmdTurnOn:
		if il := c.mgr.interlockEngine(); il != nil && !il.CanStart(c.def.Name) {
			blockedBy := il.BlockedBy(c.def.Name)
			c.interlocked = true
			err = &BlockedError{Equipment: c.def.Name, BlockedBy: blockedBy}
			c.mgr.logger.Warn("start blocked by interlock",
				"equipment", c.def.Name,
				"blocked_by", blockedBy,
				"source", cmd.source,
			)
			c.mgr.publishBlocked(c.def.Name, blockedBy, cmd.source)
			break
		}
		c.setCommanded(true, cmd.source)

	case cmdTurnOff:
		c.setCommanded(false, cmd.source)

	case cmdSetAuto:
		if c.panelControlled {
			err = fmt.Errorf("%w: %s", ErrPanelControlled, c.def.Name)
			break
		}
		c.applyMode(ModeAuto, cmd.source)
		// Clean slate even when already in auto.
		c.setCommanded(false, cmd.source)

	case cmdSetManual:
		if c.panelControlled {
			err = fmt.Errorf("%w: %s", ErrPanelControlled, c.def.Name)
			break
		}
		if _, wired := c.def.hardwareSwitch(); wired {
			err = fmt.Errorf("%w: %s", ErrModeLocked, c.def.Name)
			break
		}
		c.applyMode(ModeManual, cmd.source)
	}

	if err == nil {
		c.converge(ctx, cmd.source)
		switch {
		case c.writeErr != nil:
			c.setError(ErrorCommandFailed, c.writeErr.Error())
		case c.errKind == ErrorCommandFailed:
			c.setError(ErrorNone, "")
		}
	}

	c.mgr.logger.Debug("equipment command handled",
		"equipment", c.def.Name,
		"command", cmd.kind.String(),
		"source", cmd.source,
		"error", err,
	)
	return c.report(prev, c.lastSweep), err
}

// applyMode changes mode. Entering auto clears commanded_on before any
// convergence runs.
func (c *Controller) applyMode(next Mode, src Source) {
	if c.mode == next {
		return
	}
	c.logTransition("mode", c.mode, next, src)
	c.mode = next
	if next == ModeAuto {
		c.setCommanded(false, src)
	}
}

// checkInterlock refreshes the interlocked flag and drops a running start
// whose upstream has stopped.
func (c *Controller) checkInterlock(trip bool) {
	il := c.mgr.interlockEngine()
	blocked := il != nil && !il.CanStart(c.def.Name)
	if blocked != c.interlocked {
		c.logTransition("interlocked", c.interlocked, blocked, SourceInterlock)
		c.interlocked = blocked
	}
	if trip && blocked && c.commandedOn {
		c.mgr.logger.Warn("interlock tripped",
			"equipment", c.def.Name,
			"blocked_by", il.BlockedBy(c.def.Name),
		)
		c.setCommanded(false, SourceInterlock)
	}
}

// converge writes the output when intent and observation differ. A panel in
// manual drives the load itself, so nothing is written.
func (c *Controller) converge(ctx context.Context, src Source) {
	if c.panelControlled || c.commandedOn == c.actualOn {
		c.writeErr = nil
		return
	}

	wctx, cancel := context.WithTimeout(ctx, c.mgr.opts.CommandTimeout)
	defer cancel()

	value := 0.0
	if c.commandedOn {
		value = 1
	}
	if err := c.mgr.store.Command(wctx, c.def.Output, value); err != nil {
		if c.writeErr == nil {
			c.mgr.logger.Warn("output write failed",
				"equipment", c.def.Name,
				"point", c.def.Output,
				"value", value,
				"error", err,
			)
		}
		c.writeErr = err
		return
	}
	c.writeErr = nil
	c.setActual(c.commandedOn, src)
}

// classify derives the fault for this sweep. Rejected writes and stale
// points are asserted at once; data and consistency faults must persist for
// the debounce window.
func (c *Controller) classify(stale, invalid bool) {
	switch {
	case c.writeErr != nil:
		c.debounce.reset()
		c.setError(ErrorCommandFailed, c.writeErr.Error())
		return
	case stale:
		c.debounce.reset()
		c.setError(ErrorTimeout, "role points are stale")
		return
	}

	candidate, msg := ErrorNone, ""
	switch {
	case invalid:
		candidate, msg = ErrorInvalidData, "role point value failed validation"
	case c.def.Feedback != "" && c.actualOn && !c.isRunning:
		candidate, msg = ErrorOnButNotRunning, fmt.Sprintf("%s is on but %s reports not running", c.def.Output, c.def.Feedback)
	case c.def.Feedback != "" && !c.actualOn && c.isRunning:
		candidate, msg = ErrorOffButRunning, fmt.Sprintf("%s is off but %s reports running", c.def.Output, c.def.Feedback)
	}

	if candidate == ErrorNone {
		c.debounce.reset()
		c.setError(ErrorNone, "")
		return
	}
	if c.debounce.observe(candidate) {
		c.setError(candidate, fmt.Sprintf("%s for %d sweeps", msg, c.debounce.cycles))
		return
	}
	c.setError(ErrorNone, "")
}

func (c *Controller) setCommanded(v bool, src Source) {
	if c.commandedOn == v {
		return
	}
	c.logTransition("commanded_on", c.commandedOn, v, src)
	c.commandedOn = v
}

func (c *Controller) setActual(v bool, src Source) {
	if c.actualOn == v {
		return
	}
	c.logTransition("actual_on", c.actualOn, v, src)
	c.actualOn = v
}

func (c *Controller) setRunning(v bool) {
	if c.isRunning == v {
		return
	}
	c.logTransition("is_running", c.isRunning, v, SourceHardware)
	c.isRunning = v
}

func (c *Controller) setPanel(v bool) {
	if c.panelControlled == v {
		return
	}
	c.logTransition("panel_controlled", c.panelControlled, v, SourceHardware)
	c.panelControlled = v
}

func (c *Controller) setError(kind ErrorKind, msg string) {
	if c.errKind == kind {
		c.errMsg = msg
		return
	}
	if kind == ErrorNone {
		c.mgr.logger.Info("equipment fault cleared",
			"equipment", c.def.Name,
			"from", c.errKind,
			"mode", c.mode,
		)
	} else {
		c.mgr.logger.Warn("equipment fault",
			"equipment", c.def.Name,
			"from", c.errKind,
			"to", kind,
			"message", msg,
			"mode", c.mode,
		)
	}
	c.errKind = kind
	c.errMsg = msg
}

func (c *Controller) logTransition(field string, from, to any, src Source) {
	c.mgr.logger.Info("equipment state changed",
		"equipment", c.def.Name,
		"field", field,
		"from", from,
		"to", to,
		"mode", c.mode,
		"source", src,
	)
}

func (c *Controller) status() Status {
	return Status{
		Name:            c.def.Name,
		Type:            c.def.Type,
		Mode:            c.mode,
		CommandedOn:     c.commandedOn,
		ActualOn:        c.actualOn,
		IsRunning:       c.isRunning,
		Error:           c.errKind,
		ErrorMessage:    c.errMsg,
		Interlocked:     c.interlocked,
		PanelControlled: c.panelControlled,
	}
}

// report hands the current status to the manager and returns it.
func (c *Controller) report(prev Status, sweep uint64) Status {
	st := c.status()
	st.Sweep = sweep
	return c.mgr.update(st, !st.sameState(prev))
}
