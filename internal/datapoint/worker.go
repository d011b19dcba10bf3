package datapoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/bridges"
)

// backoffFactor grows the reconnect delay after each failed attempt.
const backoffFactor = 1.5

type readResult struct {
	point *Point
	raw   float64
	seq   uint64
	err   error
}

type sweepJob struct {
	points   []*Point
	deadline time.Time
	reply    chan []readResult
}

type writeJob struct {
	ctx   context.Context
	addr  bridges.Address
	raw   float64
	reply chan writeResult
}

type writeResult struct {
	seq uint64
	err error
}

type request struct {
	sweep *sweepJob
	write *writeJob
}

// portWorker owns one adapter. Only its goroutine touches the adapter.
type portWorker struct {
	name    string
	adapter bridges.Adapter
	reqs    chan request
	seq     *atomic.Uint64
	opts    Options
	logger  Logger
	metrics Metrics

	backoff     time.Duration
	nextAttempt time.Time
	up          bool
}

func newPortWorker(name string, adapter bridges.Adapter, seq *atomic.Uint64, opts Options) *portWorker {
	return &portWorker{
		name:    name,
		adapter: adapter,
		reqs:    make(chan request, 8),
		seq:     seq,
		opts:    opts,
		logger:  noopLogger{},
		metrics: noopMetrics{},
	}
}

// runRecovered runs the worker loop and reports whether it ended normally.
// After a panic the loop is restarted by the caller; the request that
// panicked gets no reply and its sweep times the port out.
func (w *portWorker) runRecovered(ctx context.Context) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("port worker panicked", "port", w.name, "panic", r)
			done = ctx.Err() != nil
		}
	}()
	w.run(ctx)
	return true
}

func (w *portWorker) run(ctx context.Context) {
	defer func() {
		if err := w.guard("close", w.adapter.Close); err != nil {
			w.logger.Warn("closing port", "port", w.name, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqs:
			switch {
			case req.sweep != nil:
				req.sweep.reply <- w.sweep(ctx, req.sweep)
			case req.write != nil:
				req.write.reply <- w.write(req.write)
			}
		}
	}
}

// ensureConnected opens the transport unless a reconnect backoff is pending.
// Adapters treat Connect on an open transport as a no-op.
func (w *portWorker) ensureConnected(ctx context.Context) error {
	now := time.Now()
	if now.Before(w.nextAttempt) {
		return fmt.Errorf("%w: port %s reconnecting in %s", bridges.ErrTransportClosed, w.name, w.nextAttempt.Sub(now).Round(time.Millisecond))
	}

	cctx, cancel := context.WithTimeout(ctx, w.opts.OpTimeout)
	defer cancel()
	err := w.guard("connect", func() error { return w.adapter.Connect(cctx) })
	if err != nil {
		w.scheduleReconnect(err)
		if !errors.Is(err, bridges.ErrTransportClosed) {
			err = fmt.Errorf("%w: %w", bridges.ErrTransportClosed, err)
		}
		return err
	}

	if !w.up {
		w.logger.Info("port connected", "port", w.name, "protocol", w.adapter.Protocol())
	}
	w.up = true
	w.backoff = 0
	w.metrics.SetPortConnected(w.name, true)
	return nil
}

// guard runs one adapter call. A panic in the driver or its wire codec is
// reported as a malformed response so the port keeps polling.
func (w *portWorker) guard(op string, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("adapter panicked", "port", w.name, "op", op, "panic", r)
			err = fmt.Errorf("%w: %s %s panicked: %v", bridges.ErrMalformedResponse, w.adapter.Protocol(), op, r)
		}
	}()
	return call()
}

func (w *portWorker) scheduleReconnect(err error) {
	switch {
	case w.backoff == 0:
		w.backoff = w.opts.ReconnectInitial
	default:
		w.backoff = time.Duration(float64(w.backoff) * backoffFactor)
		if w.backoff > w.opts.ReconnectMax {
			w.backoff = w.opts.ReconnectMax
		}
	}
	w.nextAttempt = time.Now().Add(w.backoff)
	if w.up {
		w.logger.Warn("port disconnected", "port", w.name, "error", err)
	} else {
		w.logger.Debug("port connect failed", "port", w.name, "error", err, "retry_in", w.backoff.String())
	}
	w.up = false
	w.metrics.SetPortConnected(w.name, false)
}

// broken drops a transport that reported ErrTransportClosed. The next sweep
// reconnects; the current one does not retry.
func (w *portWorker) broken(err error) {
	if !errors.Is(err, bridges.ErrTransportClosed) {
		return
	}
	if cerr := w.guard("close", w.adapter.Close); cerr != nil {
		w.logger.Debug("closing broken port", "port", w.name, "error", cerr)
	}
	w.scheduleReconnect(err)
}

func (w *portWorker) sweep(ctx context.Context, job *sweepJob) []readResult {
	results := make([]readResult, 0, len(job.points))
	skip := w.ensureConnected(ctx)

	for _, p := range job.points {
		if skip == nil && time.Now().After(job.deadline) {
			skip = fmt.Errorf("%w: port %s exceeded the sweep budget", bridges.ErrTimeout, w.name)
		}
		if skip != nil {
			results = append(results, readResult{point: p, err: skip})
			continue
		}

		seq := w.seq.Add(1)
		rctx, cancel := context.WithTimeout(ctx, w.opts.OpTimeout)
		var raw float64
		err := w.guard("read", func() error {
			var rerr error
			raw, rerr = w.adapter.Read(rctx, p.Address)
			return rerr
		})
		cancel()
		if err != nil {
			err = fmt.Errorf("reading %s (%s): %w", p.Name, p.Address, err)
			if errors.Is(err, bridges.ErrTransportClosed) {
				w.broken(err)
				skip = err
			}
		}
		results = append(results, readResult{point: p, raw: raw, seq: seq, err: err})
	}
	return results
}

func (w *portWorker) write(job *writeJob) writeResult {
	if err := job.ctx.Err(); err != nil {
		return writeResult{err: fmt.Errorf("%w: %w", bridges.ErrTimeout, err)}
	}
	if err := w.ensureConnected(job.ctx); err != nil {
		w.metrics.IncWrite(false)
		return writeResult{err: err}
	}

	wctx, cancel := context.WithTimeout(job.ctx, w.opts.OpTimeout)
	defer cancel()
	err := w.guard("write", func() error { return w.adapter.Write(wctx, job.addr, job.raw) })
	w.metrics.IncWrite(err == nil)
	if err != nil {
		w.broken(err)
		return writeResult{err: err}
	}
	// Reads sequenced after this point observe the write.
	return writeResult{seq: w.seq.Add(1)}
}
