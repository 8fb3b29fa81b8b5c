// Package metrics records block operation outcomes and self-test results.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"opchain/pkg/block"
)

// Recorder receives block operation timings and self-test outcomes.
type Recorder interface {
	ObserveOperation(blockName, operation string, err error, elapsed time.Duration)
	ObserveTest(blockName, test, status string, statistic float64)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveOperation(string, string, error, time.Duration) {}
func (Noop) ObserveTest(string, string, string, float64) {}

// Status classifies an operation error for labelling.
func Status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, block.ErrNotInvertible):
		return "not_invertible"
	case errors.Is(err, block.ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, block.ErrMissingInput):
		return "missing_input"
	default:
		return "error"
	}
}

// Prometheus exports operation counters, latency histograms and the latest
// self-test statistic per block and test.
type Prometheus struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	tests      *prometheus.CounterVec
	statistic  *prometheus.GaugeVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opchain",
			Name:      "block_operations_total",
			Help:      "Block operations by block, operation and outcome.",
		}, []string{"block", "operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opchain",
			Name:      "block_operation_seconds",
			Help:      "Block operation latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"block", "operation"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opchain",
			Name:      "selftest_results_total",
			Help:      "Adjoint and inverse self-test results by block, test and status.",
		}, []string{"block", "test", "status"}),
		statistic: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opchain",
			Name:      "selftest_statistic",
			Help:      "Latest self-test statistic by block and test.",
		}, []string{"block", "test"}),
	}
	for _, c := range []prometheus.Collector{p.operations, p.latency, p.tests, p.statistic} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ObserveOperation records one block operation.
func (p *Prometheus) ObserveOperation(blockName, operation string, err error, elapsed time.Duration) {
	p.operations.WithLabelValues(blockName, operation, Status(err)).Inc()
	p.latency.WithLabelValues(blockName, operation).Observe(elapsed.Seconds())
}

// ObserveTest records one self-test outcome.
func (p *Prometheus) ObserveTest(blockName, test, status string, statistic float64) {
	p.tests.WithLabelValues(blockName, test, status).Inc()
	p.statistic.WithLabelValues(blockName, test).Set(statistic)
}
