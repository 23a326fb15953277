package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	if c, ok := hv.WithLabelValues(labels...).(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestRunLifecycle(t *testing.T) {
	r := NewRecorder()

	r.RunStarted()
	if got := getGaugeValue(r.RunActive); got != 1 {
		t.Fatalf("run_active = %v, want 1", got)
	}

	r.RunFinished("completed")
	r.RunFinished("failed")
	r.RunFinished("completed")
	if got := getGaugeValue(r.RunActive); got != 0 {
		t.Fatalf("run_active = %v, want 0", got)
	}
	if got := getCounterValue(r.RunsTotal, "completed"); got != 2 {
		t.Fatalf("runs_total{completed} = %v, want 2", got)
	}
}

func TestDeviceAndViolationCounters(t *testing.T) {
	r := NewRecorder()
	r.DevicePhase("reachability", "ok")
	r.DevicePhase("reachability", "failed")
	r.DevicePhase("reachability", "ok")
	r.Violation("explicit_telnet")

	if got := getCounterValue(r.DevicePhaseTotal, "reachability", "ok"); got != 2 {
		t.Fatalf("device_phase_total = %v, want 2", got)
	}
	if got := getCounterValue(r.ViolationsTotal, "explicit_telnet"); got != 1 {
		t.Fatalf("violations_total = %v, want 1", got)
	}
}

func TestPhaseObserved(t *testing.T) {
	r := NewRecorder()
	r.PhaseObserved("collection", 3*time.Second)
	if got := getHistogramCount(r.PhaseDuration, "collection"); got != 1 {
		t.Fatalf("sample count = %d, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.RunFinished("stopped")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `lineaudit_runs_total{outcome="stopped"} 1`) {
		t.Fatalf("metrics output missing run counter:\n%s", body)
	}
}
