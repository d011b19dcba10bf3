package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IncReadError("rtu-1", "timeout")
	m.IncReadError("rtu-1", "timeout")
	m.IncRestart("equipment/fan-1")
	m.SetPortConnected("rtu-1", true)
	m.SetActiveAlarms(2)
	m.IncWrite(false)

	if got := testutil.ToFloat64(m.readErrors.WithLabelValues("rtu-1", "timeout")); got != 2 {
		t.Errorf("read errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.restarts.WithLabelValues("equipment/fan-1")); got != 1 {
		t.Errorf("restarts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.portUp.WithLabelValues("rtu-1")); got != 1 {
		t.Errorf("port_connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeAlarms); got != 2 {
		t.Errorf("active alarms = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed writes = %v, want 1", got)
	}
}

func TestMetrics_EquipmentErrorReplacesKind(t *testing.T) {
	m := New()

	m.SetEquipmentError("fan-1", "timeout")
	m.SetEquipmentError("fan-1", "on_but_not_running")

	if got := testutil.CollectAndCount(m.equipmentErr); got != 1 {
		t.Errorf("series = %d, want 1", got)
	}

	m.SetEquipmentError("fan-1", "none")
	if got := testutil.CollectAndCount(m.equipmentErr); got != 0 {
		t.Errorf("series after clear = %d, want 0", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSweep(time.Second)
	m.IncReadError("p", "k")
	m.IncRestart("a")
	m.SetEquipmentError("e", "timeout")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveSweep(120 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "farmcore_datapoint_sweep_duration_seconds_count 1") {
		t.Errorf("scrape output missing sweep histogram:\n%s", rec.Body.String())
	}
}
