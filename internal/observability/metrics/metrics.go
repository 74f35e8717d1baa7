// Package metrics exports executive state as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"cyclex/internal/executive"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyclex"

// Metrics is an executive.Observer. ObserveStep runs on the tick loop and
// only touches counters and gauges.
type Metrics struct {
	reg    *prometheus.Registry
	budget time.Duration

	ticks     prometheus.Counter
	idle      prometheus.Counter
	overruns  prometheus.Counter
	dispatch  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	slot      prometheus.Gauge
	halted    prometheus.Gauge
	frequency prometheus.Gauge
	analog    *prometheus.GaugeVec
	sw        prometheus.Gauge
	pattern   *prometheus.GaugeVec
}

// New registers the executive metrics (plus Go and process collectors) on a
// fresh registry. budget is the tick interval used to count overruns.
func New(budget time.Duration) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		reg:    reg,
		budget: budget,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Ticks handled by the dispatcher.",
		}),
		idle: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "idle_ticks_total",
			Help: "Ticks on which no task was due.",
		}),
		overruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "overruns_total",
			Help: "Ticks whose handling took longer than the tick interval.",
		}),
		dispatch: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_total",
			Help: "Task runs by task name.",
		}, []string{"task"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Wall time of a tick that ran a task.",
			Buckets: []float64{.0001, .0005, .001, .002, .005, .01, .02, .05, .1},
		}, []string{"task"}),
		slot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "slot",
			Help: "Current slot counter.",
		}),
		halted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "halted",
			Help: "1 once the master switch stopped the executive.",
		}),
		frequency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "frequency_hz",
			Help: "Last measured input frequency.",
		}),
		analog: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "analog_volts_x10",
			Help: "Last averaged analog reading (volts x10).",
		}, []string{"channel"}),
		sw: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "switch",
			Help: "Last digital switch reading.",
		}),
		pattern: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_pattern",
			Help: "1 for the health pattern selected by the last error check.",
		}, []string{"pattern"}),
	}
	return m
}

// Registry exposes the registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveStep(r executive.StepResult, s executive.Snapshot) {
	if r.Halted {
		m.halted.Set(1)
	}
	m.ticks.Inc()
	m.slot.Set(float64(r.Next))
	if r.Ran() {
		m.dispatch.WithLabelValues(r.Task).Inc()
		m.duration.WithLabelValues(r.Task).Observe(r.Elapsed.Seconds())
	} else {
		m.idle.Inc()
	}
	if m.budget > 0 && r.Elapsed > m.budget {
		m.overruns.Inc()
	}
	m.frequency.Set(float64(s.FrequencyHz))
	m.analog.WithLabelValues("1").Set(s.Analog1)
	m.analog.WithLabelValues("2").Set(s.Analog2)
	if s.Switch {
		m.sw.Set(1)
	} else {
		m.sw.Set(0)
	}
	for _, p := range []executive.HealthPattern{executive.PatternA, executive.PatternB} {
		v := 0.0
		if s.Pattern == p {
			v = 1
		}
		m.pattern.WithLabelValues(p.String()).Set(v)
	}
}

// CounterSource reports a monotonically increasing count.
type CounterSource func() uint64

// RegisterCounterFunc exports a counter owned by another component (queue
// drops, bus drops) under the given name and constant labels.
func (m *Metrics) RegisterCounterFunc(name, help string, labels prometheus.Labels, src CounterSource) error {
	return m.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, func() float64 { return float64(src()) }))
}
