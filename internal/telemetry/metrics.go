// Package telemetry exposes Prometheus collectors for the voice loop. A nil
// *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	turns        *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	actions      *prometheus.CounterVec
	cache        *prometheus.CounterVec
	pending      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sakhivox_turns_total",
			Help: "Voice turns by outcome",
		}, []string{"outcome"}),
		stageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sakhivox_stage_latency_seconds",
			Help:    "Latency of remote pipeline stages",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sakhivox_actions_total",
			Help: "Dispatched actions by kind and result",
		}, []string{"kind", "result"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sakhivox_speech_cache_lookups_total",
			Help: "Speech cache lookups",
		}, []string{"result"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "sakhivox_pending_confirmation",
			Help: "1 while an action awaits confirmation",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// Stage records how long a pipeline stage took, e.g.
//
//	defer m.Stage("transcribe", time.Now())
func (m *Metrics) Stage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Action(kind, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
	} else {
		m.cache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Pending(awaiting bool) {
	if m == nil {
		return
	}
	if awaiting {
		m.pending.Set(1)
	} else {
		m.pending.Set(0)
	}
}
