// Package metrics exposes Prometheus collectors for the control engine and
// serves them on the configured scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/config"
)

const (
	namespace       = "farmcore"
	shutdownTimeout = 5 * time.Second
)

// Metrics holds every collector the core reports. A nil *Metrics is valid
// and records nothing, so components can run without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	sweepDuration prometheus.Histogram
	readErrors    *prometheus.CounterVec
	portUp        *prometheus.GaugeVec
	writes        *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	activeAlarms  prometheus.Gauge
	equipmentErr  *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "datapoint",
			Name:      "sweep_duration_seconds",
			Help:      "Time taken to read every configured point once.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datapoint",
			Name:      "read_errors_total",
			Help:      "Failed point reads by port and error kind.",
		}, []string{"port", "kind"}),
		portUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "datapoint",
			Name:      "port_connected",
			Help:      "1 when the port transport is connected.",
		}, []string{"port"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datapoint",
			Name:      "writes_total",
			Help:      "Point writes by result.",
		}, []string{"result"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Actor restarts after a panic or unexpected exit.",
		}, []string{"actor"}),
		activeAlarms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alarm",
			Name:      "active",
			Help:      "Alarm rules currently demanding a siren.",
		}),
		equipmentErr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "equipment",
			Name:      "error",
			Help:      "1 while the equipment reports an error of the given kind.",
		}, []string{"equipment", "kind"}),
	}

	m.registry.MustRegister(
		m.sweepDuration,
		m.readErrors,
		m.portUp,
		m.writes,
		m.restarts,
		m.activeAlarms,
		m.equipmentErr,
	)
	return m
}

// ObserveSweep records the duration of one full poll sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

// IncReadError counts a failed point read.
func (m *Metrics) IncReadError(port, kind string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(port, kind).Inc()
}

// SetPortConnected reports the transport state of a port.
func (m *Metrics) SetPortConnected(port string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.portUp.WithLabelValues(port).Set(v)
}

// IncWrite counts a point write.
func (m *Metrics) IncWrite(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.writes.WithLabelValues(result).Inc()
}

// IncRestart counts a supervised actor restart.
func (m *Metrics) IncRestart(actor string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(actor).Inc()
}

// SetActiveAlarms reports how many alarm rules currently demand a siren.
func (m *Metrics) SetActiveAlarms(n int) {
	if m == nil {
		return
	}
	m.activeAlarms.Set(float64(n))
}

// SetEquipmentError sets the error gauge for an equipment. Kind "none"
// clears every kind for that equipment.
func (m *Metrics) SetEquipmentError(equipment, kind string) {
	if m == nil {
		return
	}
	m.equipmentErr.DeletePartialMatch(prometheus.Labels{"equipment": equipment})
	if kind != "" && kind != "none" {
		m.equipmentErr.WithLabelValues(equipment, kind).Set(1)
	}
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already cancelled
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	}
}
