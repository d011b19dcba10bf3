package datapoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

// Default timings.
const (
	defaultPollInterval     = time.Second
	defaultStaleCycles      = 3
	defaultOpTimeout        = 500 * time.Millisecond
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 30 * time.Second
)

// Logger defines the logging interface used by the Store.
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

// Metrics receives polling statistics.
type Metrics interface {
	ObserveSweep(d time.Duration)
	IncReadError(port, kind string)
	SetPortConnected(port string, up bool)
	IncWrite(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSweep(time.Duration)    {}
func (noopMetrics) IncReadError(string, string)   {}
func (noopMetrics) SetPortConnected(string, bool) {}
func (noopMetrics) IncWrite(bool)                 {}

// Port binds a port name to the adapter that serves it.
type Port struct {
	Name    string
	Adapter bridges.Adapter
}

// Options tunes the polling engine. Zero values take defaults.
type Options struct {
	// PollInterval is the sweep period and the per-port sweep budget.
	PollInterval time.Duration

	// StaleAfter is the age beyond which a cached value is stale.
	// Defaults to three poll intervals.
	StaleAfter time.Duration

	// OpTimeout bounds each individual adapter call.
	OpTimeout time.Duration

	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Now stamps readings and computes their age. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleCycles * o.PollInterval
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = defaultOpTimeout
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = defaultReconnectInitial
	}
	if o.ReconnectMax < o.ReconnectInitial {
		o.ReconnectMax = defaultReconnectMax
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// entry is the mutable cache slot of one point.
type entry struct {
	point    *Point
	value    float64
	updated  time.Time
	err      error
	readSeq  uint64
	writeSeq uint64
}

// Store is the Data Point Store. All public methods are thread-safe.
type Store struct {
	opts     Options
	points   map[string]*Point
	byPort   map[string][]*Point
	computed []*computedPoint
	workers  map[string]*portWorker
	seq      atomic.Uint64

	mu     sync.RWMutex
	cache  map[string]*entry
	sweeps uint64
	latest *Snapshot

	sweepMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan *Snapshot
	nextSub int

	logger  Logger
	metrics Metrics
	now     func() time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New validates the point definitions against the supplied ports and builds
// a store. Nothing is polled until Start.
func New(ports []Port, points []Point, opts Options) (*Store, error) {
	opts.applyDefaults()

	s := &Store{
		opts:    opts,
		points:  make(map[string]*Point, len(points)),
		byPort:  make(map[string][]*Point),
		workers: make(map[string]*portWorker, len(ports)),
		cache:   make(map[string]*entry, len(points)),
		subs:    make(map[int]chan *Snapshot),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		now:     opts.Now,
		done:    make(chan struct{}),
	}

	for _, p := range ports {
		if p.Adapter == nil {
			return nil, fmt.Errorf("%w: port %s has no adapter", ErrUnknownPort, p.Name)
		}
		s.workers[p.Name] = newPortWorker(p.Name, p.Adapter, &s.seq, opts)
	}

	for i := range points {
		p := points[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.points[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePoint, p.Name)
		}
		s.points[p.Name] = &p
		s.cache[p.Name] = &entry{point: &p}

		switch {
		case p.computed():
			c, err := compile(&p)
			if err != nil {
				return nil, err
			}
			s.computed = append(s.computed, c)
		case p.IO == IOVirtual:
			s.cache[p.Name].value = p.Initial
		default:
			if _, ok := s.workers[p.Port]; !ok {
				return nil, fmt.Errorf("%w: %s (point %s)", ErrUnknownPort, p.Port, p.Name)
			}
			s.byPort[p.Port] = append(s.byPort[p.Port], &p)
		}
	}

	for _, c := range s.computed {
		for _, v := range c.vars {
			if _, ok := s.points[v]; !ok {
				return nil, fmt.Errorf("%w: %s references %s", ErrUnknownPoint, c.point.Name, v)
			}
		}
	}

	t := s.now()
	for _, e := range s.cache {
		if e.point.IO == IOVirtual && !e.point.computed() {
			e.updated = t
		}
	}
	return s, nil
}

// SetLogger sets the logger for the store and its port workers.
// Call before Start.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
	for _, w := range s.workers {
		w.logger = logger
	}
}

// SetMetrics sets the metrics sink. Call before Start.
func (s *Store) SetMetrics(m Metrics) {
	s.metrics = m
	for _, w := range s.workers {
		w.metrics = m
	}
}

// Start launches one worker per port and the polling loop. The first sweep
// runs one poll interval after Start; call Sweep directly to prime earlier.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		for _, w := range s.workers {
			s.wg.Add(1)
			go func(w *portWorker) {
				defer s.wg.Done()
				for !w.runRecovered(ctx) {
				}
			}(w)
		}
		s.wg.Add(1)
		go s.pollLoop(ctx)
		s.logger.Info("data point store started",
			"points", len(s.points),
			"ports", len(s.workers),
			"poll_interval", s.opts.PollInterval.String(),
		)
	})
}

func (s *Store) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// safeSweep runs one scheduled sweep. A panic is logged and the next tick
// sweeps again.
func (s *Store) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "panic", r)
		}
	}()
	s.Sweep(ctx)
}

// Close stops polling, closes every adapter and ends all subscriptions.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.subMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()
	})
	return nil
}

// Sweep reads every physical point once, applies the results, evaluates
// computed points and broadcasts the resulting snapshot. A port that does
// not answer within the budget has its points marked failed for this sweep.
func (s *Store) Sweep(ctx context.Context) *Snapshot {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	deadline := start.Add(s.opts.PollInterval)

	var results []readResult
	pending := make(map[string]chan []readResult, len(s.workers))
	for name, w := range s.workers {
		points := s.byPort[name]
		if len(points) == 0 {
			continue
		}
		job := &sweepJob{points: points, deadline: deadline, reply: make(chan []readResult, 1)}
		select {
		case w.reqs <- request{sweep: job}:
			pending[name] = job.reply
		default:
			results = append(results, failAll(points, fmt.Errorf("%w: port %s is backlogged", bridges.ErrTimeout, name))...)
		}
	}

	wait := time.NewTimer(s.opts.PollInterval + 2*s.opts.OpTimeout)
	defer wait.Stop()
	expired := false
	for name, reply := range pending {
		if !expired {
			select {
			case r := <-reply:
				results = append(results, r...)
				continue
			case <-wait.C:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}
		select {
		case r := <-reply:
			results = append(results, r...)
		default:
			results = append(results, failAll(s.byPort[name], fmt.Errorf("%w: port %s did not finish its sweep", bridges.ErrTimeout, name))...)
		}
	}

	snap := s.apply(results)
	s.metrics.ObserveSweep(time.Since(start))
	s.publish(snap)
	return snap
}

func failAll(points []*Point, err error) []readResult {
	out := make([]readResult, len(points))
	for i, p := range points {
		out[i] = readResult{point: p, err: err}
	}
	return out
}

// apply writes sweep results into the cache and takes the snapshot under a
// single lock, so no reader sees a half-applied sweep.
func (s *Store) apply(results []readResult) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	for _, r := range results {
		e := s.cache[r.point.Name]
		s.record(e, r.raw, r.err, at, true)
		if r.err == nil {
			e.readSeq = r.seq
		}
	}
	for _, c := range s.computed {
		v, err := c.evaluate(s, at)
		s.record(s.cache[c.point.Name], v, err, at, false)
	}

	s.sweeps++
	readings := make(map[string]Reading, len(s.cache))
	for name, e := range s.cache {
		readings[name] = s.reading(e, at)
	}
	s.latest = &Snapshot{Sweep: s.sweeps, At: at, readings: readings}
	return s.latest
}

// record updates one cache slot. A failed read keeps the previous value.
func (s *Store) record(e *entry, v float64, err error, at time.Time, raw bool) {
	p := e.point
	if err != nil {
		if e.err == nil {
			s.logger.Warn("point read failed", "point", p.Name, "port", p.Port, "error", err)
		}
		e.err = err
		if p.Port != "" {
			s.metrics.IncReadError(p.Port, string(bridges.Classify(err)))
		}
		return
	}
	if e.err != nil {
		s.logger.Info("point recovered", "point", p.Name, "port", p.Port)
	}
	if raw {
		v = p.fromRaw(v)
	}
	e.value = v
	e.updated = at
	e.err = nil
}

// reading derives the externally visible state of e at time at. The caller
// holds the lock.
func (s *Store) reading(e *entry, at time.Time) Reading {
	p := e.point
	r := Reading{
		Name:      p.Name,
		Port:      p.Port,
		IO:        p.IO,
		Value:     e.value,
		UpdatedAt: e.updated,
		Err:       e.err,

		WritePending: e.writeSeq > e.readSeq,
	}
	if e.updated.IsZero() {
		r.Stale = true
		return r
	}
	r.Age = at.Sub(e.updated)
	// Software flags are owned by the store and never go stale.
	if p.IO != IOVirtual || p.computed() {
		r.Stale = r.Age > s.opts.StaleAfter
	}
	r.Invalid = !p.inRange(e.value)
	return r
}

// GetCached returns the current cached reading of a point.
func (s *Store) GetCached(name string) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[name]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrUnknownPoint, name)
	}
	return s.reading(e, s.now()), nil
}

// Latest returns the snapshot of the most recent sweep, or nil before the
// first sweep.
func (s *Store) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Point returns the definition of a point.
func (s *Store) Point(name string) (Point, bool) {
	p, ok := s.points[name]
	if !ok {
		return Point{}, false
	}
	return *p, true
}

// Points returns every point definition sorted by name.
func (s *Store) Points() []Point {
	out := make([]Point, 0, len(s.points))
	for _, p := range s.points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Command writes value to a point through its port worker and waits for the
// adapter's answer. The cache is not updated; the next sweep confirms the
// write. Software flags are the exception: they are set directly.
func (s *Store) Command(ctx context.Context, name string, value float64) error {
	p, ok := s.points[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPoint, name)
	}
	if !p.Writable() {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	if !p.inRange(value) {
		return fmt.Errorf("%w: %s = %v", ErrOutOfRange, name, value)
	}

	if p.IO == IOVirtual {
		s.mu.Lock()
		e := s.cache[name]
		e.value = value
		e.updated = s.now()
		s.mu.Unlock()
		s.logger.Debug("virtual point set", "point", name, "value", value)
		return nil
	}

	w := s.workers[p.Port]
	job := &writeJob{ctx: ctx, addr: p.Address, raw: p.toRaw(value), reply: make(chan writeResult, 1)}
	select {
	case w.reqs <- request{write: job}:
	case <-ctx.Done():
		return fmt.Errorf("%w: queueing write to %s: %w", bridges.ErrTimeout, name, ctx.Err())
	case <-s.done:
		return ErrStoreClosed
	}

	select {
	case res := <-job.reply:
		if res.err != nil {
			s.logger.Warn("point write failed", "point", name, "value", value, "error", res.err)
			return fmt.Errorf("writing %s: %w", name, res.err)
		}
		s.mu.Lock()
		s.cache[name].writeSeq = res.seq
		s.mu.Unlock()
		s.logger.Debug("point written", "point", name, "value", value)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: writing %s: %w", bridges.ErrTimeout, name, ctx.Err())
	case <-s.done:
		return ErrStoreClosed
	}
}

// Subscribe returns a channel that receives the snapshot of every sweep.
// Delivery is latest-wins: a slow subscriber skips intermediate sweeps but
// never blocks the store. The returned function ends the subscription.
func (s *Store) Subscribe() (<-chan *Snapshot, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan *Snapshot, 1)
	select {
	case <-s.done:
		close(ch)
		return ch, func() {}
	default:
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Store) publish(snap *Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the undelivered snapshot with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
