// Package metrics defines the Prometheus collectors for audit runs.
//
// Metric naming follows Prometheus conventions:
//   - lineaudit_ prefix for all metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so several instances can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec
	DevicePhaseTotal *prometheus.CounterVec
	ViolationsTotal  *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	RunActive        prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		// RunsTotal counts finished runs by outcome.
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineaudit_runs_total",
				Help: "Total number of audit runs by outcome.",
			},
			[]string{"outcome"},
		),

		// DevicePhaseTotal counts per-device gate results.
		DevicePhaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineaudit_device_phase_total",
				Help: "Per-device phase results.",
			},
			[]string{"phase", "result"},
		),

		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineaudit_violations_total",
				Help: "Telnet-exposed physical lines found, by reason.",
			},
			[]string{"reason"},
		),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lineaudit_phase_duration_seconds",
				Help:    "Wall time spent in each run phase.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"phase"},
		),

		RunActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lineaudit_run_active",
				Help: "1 while an audit run is executing.",
			},
		),
	}

	r.registry.MustRegister(
		r.RunsTotal,
		r.DevicePhaseTotal,
		r.ViolationsTotal,
		r.PhaseDuration,
		r.RunActive,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RunStarted() {
	r.RunActive.Set(1)
}

func (r *Recorder) RunFinished(outcome string) {
	r.RunActive.Set(0)
	r.RunsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) DevicePhase(phase, result string) {
	r.DevicePhaseTotal.WithLabelValues(phase, result).Inc()
}

func (r *Recorder) Violation(reason string) {
	r.ViolationsTotal.WithLabelValues(reason).Inc()
}

func (r *Recorder) PhaseObserved(phase string, d time.Duration) {
	r.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
