/*
Package metrics exposes engine telemetry to Prometheus.

METRICS:
  stock_ledger_operations_total{operation,result}         result: ok|error|not_found|invalid|conflict
  stock_ledger_operation_duration_seconds{operation}      Histogram, includes retries
  stock_ledger_projections_total{operation,outcome}       outcome: applied|superseded
  stock_ledger_audited_positions                          Gauge, positions checked by the last audit
  stock_ledger_inconsistent_positions                     Gauge, available != on_hand - reserved

USAGE:
  reg := prometheus.NewRegistry()
  collector := metrics.NewCollector(reg)
  engine := inventory.NewEngine(store, inventory.WithRecorder(collector))
  http.Handle("/metrics", metrics.Handler(reg))
*/
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/stock-ledger/inventory"
)

const namespace = "stock_ledger"

// Collector implements inventory.Recorder.
type Collector struct {
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	projections *prometheus.CounterVec

	audited      prometheus.Gauge
	inconsistent prometheus.Gauge
}

var _ inventory.Recorder = (*Collector)(nil)

// NewCollector registers the ledger metrics on reg. It panics if they are
// already registered there.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		}, []string{"operation", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent in a ledger operation, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		projections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projections_total",
			Help:      "Entries projected onto positions or superseded by a later balance.",
		}, []string{"operation", "outcome"}),
		audited: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audited_positions",
			Help:      "Positions checked by the last audit.",
		}),
		inconsistent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inconsistent_positions",
			Help:      "Positions whose available differs from on hand minus reserved at the last audit.",
		}),
	}
	reg.MustRegister(c.operations, c.durations, c.projections, c.audited, c.inconsistent)
	return c
}

func (c *Collector) ObserveOperation(op inventory.Operation, d time.Duration, err error) {
	c.operations.WithLabelValues(string(op), result(err)).Inc()
	c.durations.WithLabelValues(string(op)).Observe(d.Seconds())
}

// ObserveProjection is called once per appended ledger entry, including
// attempts that are later rolled back and retried.
func (c *Collector) ObserveProjection(op inventory.Operation, projected bool) {
	outcome := "applied"
	if !projected {
		outcome = "superseded"
	}
	c.projections.WithLabelValues(string(op), outcome).Inc()
}

// ObserveAudit implements api.AuditObserver.
func (c *Collector) ObserveAudit(checked, inconsistent int) {
	c.audited.Set(float64(checked))
	c.inconsistent.Set(float64(inconsistent))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case inventory.IsNotFound(err):
		return "not_found"
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return "invalid"
	case inventory.IsRetryable(err):
		return "conflict"
	default:
		return "error"
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
