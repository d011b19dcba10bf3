package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-farm/internal/supervisor"
)

const eventBuffer = 256

// Writer is the time-series sink. *influxdb.Client implements it.
type Writer interface {
	WritePointValue(name, port string, value float64, at time.Time)
	WriteEquipmentState(s influxdb.EquipmentSample, at time.Time)
	WriteAlarmState(rule, state string, triggered bool, at time.Time)
}

// PointSource delivers refreshed snapshots. *datapoint.Store implements it.
type PointSource interface {
	Subscribe() (<-chan *datapoint.Snapshot, func())
}

// Bus is the change feed. *events.Bus implements it.
type Bus interface {
	Subscribe(buffer int, types ...events.Type) *events.Subscription
}

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Metrics receives recorder counters.
type Metrics interface {
	IncRestart(actor string)
}

type noopMetrics struct{}

func (noopMetrics) IncRestart(string) {}

// Recorder copies control state into the time-series store.
type Recorder struct {
	writer  Writer
	points  PointSource
	bus     Bus
	logger  Logger
	metrics Metrics

	// written holds the UpdatedAt of the last value sent per point so a
	// cached value is not written again on later sweeps.
	written map[string]time.Time
}

// New creates a recorder.
func New(writer Writer, points PointSource, bus Bus) *Recorder {
	return &Recorder{
		writer:  writer,
		points:  points,
		bus:     bus,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		written: make(map[string]time.Time),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the metrics sink.
func (r *Recorder) SetMetrics(m Metrics) {
	r.metrics = m
}

// Start runs the recorder as a supervised actor named "telemetry".
func (r *Recorder) Start(ctx context.Context, sup *supervisor.Supervisor) error {
	return sup.Go(ctx, supervisor.Config{
		Name: "telemetry",
		Run:  r.Run,
		OnRestart: func(int, error) {
			r.metrics.IncRestart("telemetry")
		},
	})
}

// Run records snapshots and events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	snaps, cancel := r.points.Subscribe()
	defer cancel()
	sub := r.bus.Subscribe(eventBuffer, events.TypeEquipmentStatus, events.TypeAlarmState)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			r.RecordSnapshot(snap)
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			r.RecordEvent(ev)
		}
	}
}

// RecordSnapshot writes every point whose value was read since the last
// write. Stale and invalid values are skipped.
func (r *Recorder) RecordSnapshot(snap *datapoint.Snapshot) {
	n := 0
	for _, name := range snap.Names() {
		rd, _ := snap.Get(name)
		if rd.Stale || rd.Invalid || rd.UpdatedAt.IsZero() {
			continue
		}
		if last, ok := r.written[name]; ok && !rd.UpdatedAt.After(last) {
			continue
		}
		r.writer.WritePointValue(name, rd.Port, rd.Value, rd.UpdatedAt)
		r.written[name] = rd.UpdatedAt
		n++
	}
	r.logger.Debug("telemetry snapshot recorded", "sweep", snap.Sweep, "points", n)
}

// RecordEvent writes equipment and alarm state changes. Other events and
// unexpected payloads are ignored.
func (r *Recorder) RecordEvent(ev events.Event) {
	switch p := ev.Payload.(type) {
	case equipment.Status:
		r.writer.WriteEquipmentState(influxdb.EquipmentSample{
			Name:        p.Name,
			Type:        p.Type,
			Mode:        string(p.Mode),
			CommandedOn: p.CommandedOn,
			ActualOn:    p.ActualOn,
			IsRunning:   p.IsRunning,
			Error:       string(p.Error),
		}, ev.Timestamp)
	case alarm.Status:
		r.writer.WriteAlarmState(p.Rule, string(p.State), p.Triggered, ev.Timestamp)
	}
}
