package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/alarm"
	"github.com/nerrad567/gray-logic-farm/internal/datapoint"
	"github.com/nerrad567/gray-logic-farm/internal/equipment"
	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/influxdb"
)

type pointWrite struct {
	name, port string
	value      float64
	at         time.Time
}

type fakeWriter struct {
	mu         sync.Mutex
	points     []pointWrite
	equipment  []influxdb.EquipmentSample
	alarmRules []string
}

func (w *fakeWriter) WritePointValue(name, port string, value float64, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, pointWrite{name, port, value, at})
}

func (w *fakeWriter) WriteEquipmentState(s influxdb.EquipmentSample, _ time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.equipment = append(w.equipment, s)
}

func (w *fakeWriter) WriteAlarmState(rule, state string, _ bool, _ time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alarmRules = append(w.alarmRules, rule+"="+state)
}

func (w *fakeWriter) counts() (int, int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points), len(w.equipment), len(w.alarmRules)
}

type fakeSource struct {
	ch chan *datapoint.Snapshot
}

func (s *fakeSource) Subscribe() (<-chan *datapoint.Snapshot, func()) {
	return s.ch, func() {}
}

func TestRecorder_RecordSnapshot(t *testing.T) {
	w := &fakeWriter{}
	r := New(w, &fakeSource{}, events.NewBus())
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	r.RecordSnapshot(datapoint.NewSnapshot(1, t0,
		datapoint.Reading{Name: "TEMP-1", Port: "io1", Value: 24.5, UpdatedAt: t0},
		datapoint.Reading{Name: "HUM-1", Port: "sim", Value: 60, UpdatedAt: t0, Stale: true},
		datapoint.Reading{Name: "FAN-1-FB", Port: "sim", Value: 7, UpdatedAt: t0, Invalid: true},
		datapoint.Reading{Name: "NEVER", Port: "sim"},
	))
	if len(w.points) != 1 || w.points[0] != (pointWrite{"TEMP-1", "io1", 24.5, t0}) {
		t.Fatalf("points = %+v", w.points)
	}

	// Same cached value on the next sweep is not written again.
	r.RecordSnapshot(datapoint.NewSnapshot(2, t0.Add(time.Second),
		datapoint.Reading{Name: "TEMP-1", Port: "io1", Value: 24.5, UpdatedAt: t0},
	))
	if len(w.points) != 1 {
		t.Fatalf("cached value rewritten: %+v", w.points)
	}

	r.RecordSnapshot(datapoint.NewSnapshot(3, t0.Add(2*time.Second),
		datapoint.Reading{Name: "TEMP-1", Port: "io1", Value: 25, UpdatedAt: t0.Add(2 * time.Second)},
	))
	if len(w.points) != 2 || w.points[1].value != 25 {
		t.Errorf("points = %+v", w.points)
	}
}

func TestRecorder_RecordEvent(t *testing.T) {
	w := &fakeWriter{}
	r := New(w, &fakeSource{}, events.NewBus())

	r.RecordEvent(events.Event{Type: events.TypeEquipmentStatus, Payload: equipment.Status{
		Name: "FAN-1", Type: "fan", Mode: equipment.ModeAuto, CommandedOn: true, Error: equipment.ErrorOnButNotRunning,
	}})
	r.RecordEvent(events.Event{Type: events.TypeAlarmState, Payload: alarm.Status{Rule: "HIGH-TEMP", State: alarm.StateActive}})
	r.RecordEvent(events.Event{Type: events.TypeEquipmentBlocked, Payload: equipment.BlockedPayload{Equipment: "PUMP-1"}})

	if len(w.equipment) != 1 {
		t.Fatalf("equipment writes = %d, want 1", len(w.equipment))
	}
	got := w.equipment[0]
	if got.Name != "FAN-1" || got.Mode != "auto" || !got.CommandedOn || got.Error != "on_but_not_running" {
		t.Errorf("sample = %+v", got)
	}
	if len(w.alarmRules) != 1 || w.alarmRules[0] != "HIGH-TEMP=active" {
		t.Errorf("alarm writes = %v", w.alarmRules)
	}
}

func TestRecorder_Run(t *testing.T) {
	w := &fakeWriter{}
	src := &fakeSource{ch: make(chan *datapoint.Snapshot, 1)}
	bus := events.NewBus()
	r := New(w, src, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	now := time.Now()
	src.ch <- datapoint.NewSnapshot(1, now, datapoint.Reading{Name: "TEMP-1", Port: "io1", Value: 21, UpdatedAt: now})
	bus.Publish(events.TypeAlarmState, "HIGH-TEMP", alarm.Status{Rule: "HIGH-TEMP", State: alarm.StateInactive})

	for time.Now().Before(deadline) {
		if p, _, a := w.counts(); p == 1 && a == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if p, _, a := w.counts(); p != 1 || a != 1 {
		t.Errorf("writes points=%d alarms=%d, want 1 and 1", p, a)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
