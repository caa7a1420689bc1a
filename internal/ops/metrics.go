package ops

import (
	"github.com/prometheus/client_golang/prometheus"

	"postpilot/internal/automation"
)

// Metrics implements engine.Metrics on a prometheus registry.
type Metrics struct {
	reg *prometheus.Registry

	ticks         prometheus.Counter
	ticksSkipped  prometheus.Counter
	fires         *prometheus.CounterVec
	storeDegraded prometheus.Counter
	recordsPruned prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postpilot",
			Name:      "ticks_total",
			Help:      "Rule evaluation ticks started.",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postpilot",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous tick was still running.",
		}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postpilot",
			Name:      "fires_total",
			Help:      "Fire attempts by terminal outcome.",
		}, []string{"outcome"}),
		storeDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postpilot",
			Name:      "store_degraded_total",
			Help:      "Dedup claims allowed because the claim store errored.",
		}),
		recordsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postpilot",
			Name:      "records_pruned_total",
			Help:      "Execution records removed by retention.",
		}),
	}
	m.reg.MustRegister(m.ticks, m.ticksSkipped, m.fires, m.storeDegraded, m.recordsPruned)
	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) TickStarted() { m.ticks.Inc() }
func (m *Metrics) TickSkipped() { m.ticksSkipped.Inc() }

func (m *Metrics) FireOutcome(outcome automation.Outcome) {
	m.fires.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) StoreDegraded() { m.storeDegraded.Inc() }

func (m *Metrics) RecordsPruned(n int64) {
	if n > 0 {
		m.recordsPruned.Add(float64(n))
	}
}
