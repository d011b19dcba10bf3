package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-farm/internal/events"
	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/database"
)

func newTestRecorder(t *testing.T, retention time.Duration) *Recorder {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{Path: filepath.Join(t.TempDir(), "history.db"), WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r, err := New(context.Background(), db, retention)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func event(id string, typ events.Type, subject string, at time.Time, payload any) events.Event {
	return events.Event{ID: id, Type: typ, Subject: subject, Timestamp: at, Payload: payload}
}

func TestNew_SchemaIsIdempotent(t *testing.T) {
	db, err := database.Open(context.Background(), database.Config{Path: filepath.Join(t.TempDir(), "h.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for i := 0; i < 2; i++ {
		if _, err := New(context.Background(), db, 0); err != nil {
			t.Fatalf("New() #%d error = %v", i, err)
		}
	}
	if v, err := db.SchemaVersion(context.Background(), "history"); err != nil || v != 1 {
		t.Errorf("SchemaVersion(history) = %d, %v; want 1", v, err)
	}
}

func TestRecorder_RecordAndQuery(t *testing.T) {
	r := newTestRecorder(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	evs := []events.Event{
		event("e1", events.TypeEquipmentStatus, "FAN-1", base, map[string]any{"commanded_on": true}),
		event("e2", events.TypeAlarmState, "HIGH-TEMP", base.Add(time.Second), map[string]any{"state": "active"}),
		event("e3", events.TypeEquipmentStatus, "FAN-1", base.Add(2*time.Second), map[string]any{"commanded_on": false}),
		event("e4", events.TypeEquipmentBlocked, "PUMP-1", base.Add(3*time.Second), nil),
	}
	for _, ev := range evs {
		if err := r.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent(%s) error = %v", ev.ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{name: "all newest first", filter: Filter{}, wantIDs: []string{"e4", "e3", "e2", "e1"}},
		{name: "by subject", filter: Filter{Subject: "FAN-1"}, wantIDs: []string{"e3", "e1"}},
		{name: "by type", filter: Filter{Type: events.TypeAlarmState}, wantIDs: []string{"e2"}},
		{name: "since", filter: Filter{Since: base.Add(2 * time.Second)}, wantIDs: []string{"e4", "e3"}},
		{name: "limit", filter: Filter{Limit: 1}, wantIDs: []string{"e4"}},
		{name: "no match", filter: Filter{Subject: "SIREN-1"}, wantIDs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.GetHistory(ctx, tt.filter)
			if err != nil {
				t.Fatalf("GetHistory() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("GetHistory() = %d entries, want %d", len(got), len(tt.wantIDs))
			}
			for i, e := range got {
				if e.ID != tt.wantIDs[i] {
					t.Errorf("entry %d = %s, want %s", i, e.ID, tt.wantIDs[i])
				}
			}
		})
	}

	got, _ := r.GetHistory(ctx, Filter{Subject: "FAN-1", Limit: 1})
	var payload map[string]any
	if err := json.Unmarshal(got[0].Payload, &payload); err != nil {
		t.Fatalf("payload = %s: %v", got[0].Payload, err)
	}
	if payload["commanded_on"] != false {
		t.Errorf("payload = %v", payload)
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}
}

func TestRecorder_DuplicateIDRejected(t *testing.T) {
	r := newTestRecorder(t, 0)
	ev := event("dup", events.TypeEnvironmentStep, "environment", time.Now(), nil)
	if err := r.RecordEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordEvent(context.Background(), ev); err == nil {
		t.Error("RecordEvent() accepted a duplicate id")
	}
}

func TestRecorder_Prune(t *testing.T) {
	r := newTestRecorder(t, 0)
	ctx := context.Background()
	now := time.Now()
	_ = r.RecordEvent(ctx, event("old", events.TypeAlarmState, "A", now.Add(-48*time.Hour), nil))
	_ = r.RecordEvent(ctx, event("new", events.TypeAlarmState, "A", now, nil))

	n, err := r.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d, want 1", n)
	}
	got, _ := r.GetHistory(ctx, Filter{})
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestRecorder_RunRecordsBusEvents(t *testing.T) {
	r := newTestRecorder(t, time.Hour)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Publish(events.TypeEquipmentStatus, "FAN-1", map[string]bool{"is_running": true})
	bus.Publish(events.TypeAlarmState, "HIGH-TEMP", map[string]string{"state": "active"})

	var got []Entry
	for time.Now().Before(deadline) {
		got, _ = r.GetHistory(context.Background(), Filter{})
		if len(got) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 2 {
		t.Fatalf("recorded %d events, want 2", len(got))
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if bus.SubscriberCount() != 0 {
		t.Error("subscription not released")
	}
}
