// Package metrics exports engine measurements to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meikuraledutech/procgraph"
)

// Batch results used as the "result" label.
const (
	ResultCommitted = "committed"
	ResultConflict  = "conflict"
	ResultNotFound  = "not_found"
	ResultInvalid   = "invalid"
	ResultError     = "error"
)

// unknownType labels operations of a type the engine does not know.
const unknownType = "unknown"

// Observer implements procgraph.Observer with Prometheus collectors.
type Observer struct {
	batches    *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procgraph_batches_total",
				Help: "Operation batches by result",
			},
			[]string{"result"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procgraph_operations_total",
				Help: "Operations in committed batches by type and outcome",
			},
			[]string{"type", "status"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "procgraph_batch_duration_seconds",
				Help:    "Time to apply and commit a batch",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(o.batches, o.operations, o.duration)
	return o
}

// BatchCommitted implements procgraph.Observer.
func (o *Observer) BatchCommitted(_ procgraph.VersionKey, outcomes []procgraph.Outcome, took time.Duration) {
	o.batches.WithLabelValues(ResultCommitted).Inc()
	o.duration.Observe(took.Seconds())
	for _, out := range outcomes {
		typ := unknownType
		if out.Type.Known() {
			typ = string(out.Type)
		}
		o.operations.WithLabelValues(typ, string(out.Status)).Inc()
	}
}

// BatchRejected implements procgraph.Observer.
func (o *Observer) BatchRejected(_ procgraph.VersionKey, err error) {
	o.batches.WithLabelValues(Result(err)).Inc()
}

// Result classifies a batch error into a result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultCommitted
	case errors.Is(err, procgraph.ErrConflict):
		return ResultConflict
	case errors.Is(err, procgraph.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, procgraph.ErrInvalidGraph):
		return ResultInvalid
	default:
		return ResultError
	}
}
