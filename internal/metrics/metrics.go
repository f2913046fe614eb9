// Package metrics provides Prometheus collectors for reef operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the interface the engine reports through. The server wires
// the Prometheus-backed collector; everything else defaults to the no-op.
type Collector interface {
	UnitSurfaced()
	ChallengeResolved(verdict string)
	UnitDeleted()
	PolicyHalt()
	SetQuarantineOccupancy(n int)
	SetUnitCount(state string, n int)
}

// Nop is the default collector; it records nothing.
type Nop struct{}

func (Nop) UnitSurfaced()              {}
func (Nop) ChallengeResolved(string)   {}
func (Nop) UnitDeleted()               {}
func (Nop) PolicyHalt()                {}
func (Nop) SetQuarantineOccupancy(int) {}
func (Nop) SetUnitCount(string, int)   {}

// PromCollector is the Prometheus-backed collector on a private registry.
type PromCollector struct {
	surfaced   prometheus.Counter
	challenges *prometheus.CounterVec
	deletions  prometheus.Counter
	halts      prometheus.Counter
	quarantine prometheus.Gauge
	units      *prometheus.GaugeVec
	registry   *prometheus.Registry
}

// NewPromCollector creates and registers the reef metric set.
func NewPromCollector() *PromCollector {
	registry := prometheus.NewRegistry()

	c := &PromCollector{
		surfaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reef_units_surfaced_total",
			Help: "Total units returned by surfacing queries",
		}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reef_challenges_total",
			Help: "Total decay challenges resolved, by verdict",
		}, []string{"verdict"}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reef_deletions_total",
			Help: "Total units moved to quarantine",
		}),
		halts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reef_policy_halts_total",
			Help: "Total destructive batches halted by the rate ceiling",
		}),
		quarantine: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reef_quarantine_occupancy",
			Help: "Current number of units held in quarantine",
		}),
		units: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reef_units",
			Help: "Current unit count by lifecycle state",
		}, []string{"state"}),
		registry: registry,
	}

	registry.MustRegister(c.surfaced, c.challenges, c.deletions, c.halts, c.quarantine, c.units)
	return c
}

func (c *PromCollector) UnitSurfaced() { c.surfaced.Inc() }
func (c *PromCollector) ChallengeResolved(verdict string) {
	c.challenges.WithLabelValues(verdict).Inc()
}
func (c *PromCollector) UnitDeleted()                 { c.deletions.Inc() }
func (c *PromCollector) PolicyHalt()                  { c.halts.Inc() }
func (c *PromCollector) SetQuarantineOccupancy(n int) { c.quarantine.Set(float64(n)) }
func (c *PromCollector) SetUnitCount(state string, n int) {
	c.units.WithLabelValues(state).Set(float64(n))
}

// Handler returns the /metrics endpoint for the private registry.
func (c *PromCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
