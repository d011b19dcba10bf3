package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Status represents the current state of a supervised goroutine.
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
)

// defaultRestartDelay keeps a goroutine that panics on entry from spinning
// a CPU core. It is a pause, not a limit.
const defaultRestartDelay = 100 * time.Millisecond

// ErrUnexpectedExit is reported when Run returns nil while its context is
// still live.
var ErrUnexpectedExit = errors.New("supervisor: run returned before shutdown")

// PanicError carries a recovered panic and the stack where it happened.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Config describes one supervised goroutine.
type Config struct {
	// Name identifies the goroutine in logs and status queries. Unique per Supervisor.
	Name string

	// Run is the body. It must return when ctx is cancelled.
	Run func(ctx context.Context) error

	// RestartDelay is the pause before each restart.
	RestartDelay time.Duration

	// OnStart is called each time Run is entered.
	OnStart func()

	// OnStop is called when Run exits, with the panic or error that ended it.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int, cause error)
}

// Logger defines the logging interface for the supervisor.
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

// child is the bookkeeping for one supervised goroutine.
type child struct {
	status    Status
	restarts  int
	lastError error
	startTime time.Time
}

// Supervisor owns a set of restartable goroutines.
type Supervisor struct {
	logger Logger

	mu       sync.RWMutex
	children map[string]*child
	wg       sync.WaitGroup
}

// New creates an empty supervisor.
func New() *Supervisor {
	return &Supervisor{
		logger:   noopLogger{},
		children: make(map[string]*child),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Go starts cfg.Run in a new goroutine and keeps it running until ctx is
// cancelled.
func (s *Supervisor) Go(ctx context.Context, cfg Config) error {
	if cfg.Run == nil {
		return fmt.Errorf("supervisor: %s has no run function", cfg.Name)
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}

	s.mu.Lock()
	if c, ok := s.children[cfg.Name]; ok && c.status != StatusStopped {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: %s is already running", cfg.Name)
	}
	s.children[cfg.Name] = &child{status: StatusRunning}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.monitor(ctx, cfg)
	return nil
}

// monitor runs cfg.Run and handles restarts.
func (s *Supervisor) monitor(ctx context.Context, cfg Config) {
	defer s.wg.Done()

	for {
		s.setStatus(cfg.Name, StatusRunning, nil)
		if cfg.OnStart != nil {
			cfg.OnStart()
		}

		err := runProtected(ctx, cfg.Run)
		if cfg.OnStop != nil {
			cfg.OnStop(err)
		}

		if ctx.Err() != nil {
			s.logger.Debug("supervised goroutine stopped", "name", cfg.Name)
			s.setStatus(cfg.Name, StatusStopped, nil)
			return
		}

		if err == nil {
			err = ErrUnexpectedExit
		}
		attempt := s.recordFailure(cfg.Name, err)

		var pe *PanicError
		if errors.As(err, &pe) {
			s.logger.Error("supervised goroutine panicked, restarting",
				"name", cfg.Name,
				"panic", fmt.Sprint(pe.Value),
				"attempt", attempt,
				"stack", string(pe.Stack),
			)
		} else {
			s.logger.Warn("supervised goroutine exited, restarting",
				"name", cfg.Name,
				"error", err,
				"attempt", attempt,
			)
		}

		if cfg.OnRestart != nil {
			cfg.OnRestart(attempt, err)
		}

		select {
		case <-ctx.Done():
			s.setStatus(cfg.Name, StatusStopped, nil)
			return
		case <-time.After(cfg.RestartDelay):
		}
	}
}

// runProtected calls run and converts a panic into a *PanicError.
func runProtected(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return run(ctx)
}

func (s *Supervisor) setStatus(name string, st Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.children[name]
	c.status = st
	if st == StatusRunning {
		c.startTime = time.Now()
	}
	if err != nil {
		c.lastError = err
	}
}

func (s *Supervisor) recordFailure(name string, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.children[name]
	c.status = StatusRestarting
	c.lastError = err
	c.restarts++
	return c.restarts
}

// Wait blocks until every supervised goroutine has stopped.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Info is a point-in-time view of one supervised goroutine.
type Info struct {
	Name      string
	Status    Status
	Restarts  int
	LastError error
	Uptime    time.Duration
}

// Info returns the state of the named goroutine.
func (s *Supervisor) Info(name string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[name]
	if !ok {
		return Info{}, false
	}
	return s.info(name, c), true
}

// List returns the state of every goroutine sorted by name.
func (s *Supervisor) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.children))
	for name, c := range s.children {
		out = append(out, s.info(name, c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) info(name string, c *child) Info {
	i := Info{Name: name, Status: c.status, Restarts: c.restarts, LastError: c.lastError}
	if c.status == StatusRunning {
		i.Uptime = time.Since(c.startTime)
	}
	return i
}
