package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cyclex/internal/executive"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStep(t *testing.T) {
	t.Parallel()
	m := New(20 * time.Millisecond)
	snap := executive.Snapshot{FrequencyHz: 1000, Analog1: 5, Analog2: 1, Switch: true, Pattern: executive.PatternA}

	m.ObserveStep(executive.StepResult{Slot: 0, Next: 1, Task: "measure_frequency", Index: 0, Elapsed: time.Millisecond}, snap)
	m.ObserveStep(executive.StepResult{Slot: 1, Next: 2, Index: -1, Elapsed: 30 * time.Millisecond}, snap)
	m.ObserveStep(executive.StepResult{Slot: 102, Next: 106, Task: "display_update", Index: 4, Elapsed: 2 * time.Millisecond}, snap)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"ticks", m.ticks, 3},
		{"idle", m.idle, 1},
		{"overruns", m.overruns, 1},
		{"dispatch display", m.dispatch.WithLabelValues("display_update"), 1},
		{"slot", m.slot, 106},
		{"frequency", m.frequency, 1000},
		{"analog1", m.analog.WithLabelValues("1"), 5},
		{"switch", m.sw, 1},
		{"pattern A", m.pattern.WithLabelValues("A"), 1},
		{"pattern B", m.pattern.WithLabelValues("B"), 0},
		{"halted", m.halted, 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestHandlerExposesCounterFuncs(t *testing.T) {
	t.Parallel()
	m := New(0)
	var drops uint64 = 7
	if err := m.RegisterCounterFunc("telemetry_dropped_total", "Dropped lines.", prometheus.Labels{"sink": "telegram"}, func() uint64 { return drops }); err != nil {
		t.Fatalf("RegisterCounterFunc: %v", err)
	}
	m.ObserveStep(executive.StepResult{Index: -1, Halted: true}, executive.Snapshot{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`cyclex_telemetry_dropped_total{sink="telegram"} 7`,
		"cyclex_halted 1",
		"cyclex_ticks_total 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
