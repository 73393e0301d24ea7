// Package metrics exposes pipeline instrumentation as Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "luxmeter"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	SamplesIngested prometheus.Counter
	ParseErrors     prometheus.Counter
	WorkerState     prometheus.Gauge

	Conversions   *prometheus.CounterVec
	Substitutions prometheus.Counter
	GuessRepairs  prometheus.Counter

	BufferLength  *prometheus.GaugeVec
	EventsDropped prometheus.Counter

	PersistWrites   *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDropped  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "samples_total",
			Help:      "Samples parsed from the device and forwarded to the pipeline",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "parse_errors_total",
			Help:      "Device lines that did not parse as a number",
		}),
		WorkerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "worker_state",
			Help:      "Ingestion worker state (0=connecting, 1=connected, 2=disconnected, 3=failed)",
		}),
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "solves_total",
			Help:      "Root finder runs by outcome",
		}, []string{"outcome"}),
		Substitutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "substitutions_total",
			Help:      "Non-finite or negative results replaced by zero",
		}),
		GuessRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "guess_repairs_total",
			Help:      "Non-positive initial guesses replaced by 1.0",
		}),
		BufferLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "buffer_length",
			Help:      "Samples currently held per series",
		}, []string{"series"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_dropped_total",
			Help:      "Conversion events dropped because the event channel was full",
		}),
		PersistWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "writes_total",
			Help:      "Successful persistence writes by record kind",
		}, []string{"kind"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "failures_total",
			Help:      "Failed persistence writes by record kind",
		}, []string{"kind"}),
		PersistDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "dropped_total",
			Help:      "Persistence requests rejected by a full dispatch queue",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.SamplesIngested, m.ParseErrors, m.WorkerState,
		m.Conversions, m.Substitutions, m.GuessRepairs,
		m.BufferLength, m.EventsDropped,
		m.PersistWrites, m.PersistFailures, m.PersistDropped,
	)
	return m
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SampleIngested() {
	if m != nil {
		m.SamplesIngested.Inc()
	}
}

func (m *Metrics) ParseError() {
	if m != nil {
		m.ParseErrors.Inc()
	}
}

func (m *Metrics) SetWorkerState(state int) {
	if m != nil {
		m.WorkerState.Set(float64(state))
	}
}

func (m *Metrics) Conversion(outcome string, substituted, repaired bool) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(outcome).Inc()
	if substituted {
		m.Substitutions.Inc()
	}
	if repaired {
		m.GuessRepairs.Inc()
	}
}

func (m *Metrics) SetBufferLength(series string, n int) {
	if m != nil {
		m.BufferLength.WithLabelValues(series).Set(float64(n))
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) PersistWrite(kind string) {
	if m != nil {
		m.PersistWrites.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PersistFailure(kind string) {
	if m != nil {
		m.PersistFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PersistDrop(kind string) {
	if m != nil {
		m.PersistDropped.WithLabelValues(kind).Inc()
	}
}
