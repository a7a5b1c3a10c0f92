// Package prompush implements metrics.Backend on a private Prometheus registry
// that is pushed to a Pushgateway on Flush. A batch run exits before any
// scraper would see it, so the gateway holds the last run's values.
package prompush

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"demoindex/internal/metrics"
)

// Backend implements metrics.Backend for the Prometheus Pushgateway.
type Backend struct {
	pusher *push.Pusher

	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	recordsTotal *prometheus.CounterVec
	tablesTotal  *prometheus.CounterVec
	batchesTotal prometheus.Counter
}

// NewBackend registers the pipeline metrics and targets gatewayURL under job.
//
// Errors:
//   - Returns an error if gatewayURL is empty.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, errors.New("prompush: pushgateway url is empty")
	}
	if job == "" {
		job = "demoindex"
	}

	b := &Backend{
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps by outcome.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~41s
		}, []string{"step", "status"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records written by kind.",
		}, []string{"kind"}),
		tablesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.TablesTotal,
			Help: "Input tables by outcome.",
		}, []string{"status"}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Fact batches written.",
		}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(b.stepTotal, b.stepDuration, b.recordsTotal, b.tablesTotal, b.batchesTotal)
	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.stepTotal.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		if labels["kind"] == "" {
			return
		}
		b.recordsTotal.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.TablesTotal:
		status := labels["status"]
		if status == "" {
			status = "unknown"
		}
		b.tablesTotal.WithLabelValues(status).Add(delta)
	case metrics.BatchesTotal:
		b.batchesTotal.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush replaces the job's metric group on the gateway with the current values.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
