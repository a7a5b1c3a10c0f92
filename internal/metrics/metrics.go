// Package metrics is the backend-neutral facade the pipeline reports to.
//
// Pipeline code calls the package-level helpers; cmd/demoindex installs a
// concrete Backend (Datadog or Prometheus Pushgateway) with SetBackend. Until
// then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends translate them into their own naming scheme and
// ignore names they do not know.
const (
	StepTotal           = "etl_step_total"            // labels: step, status
	StepDurationSeconds = "etl_step_duration_seconds" // labels: step, status
	RecordsTotal        = "etl_records_total"         // labels: kind
	BatchesTotal        = "etl_batches_total"
	TablesTotal         = "etl_tables_total" // labels: status
)

// Status values of TablesTotal.
const (
	TableTransformed = "transformed"
	TableSkipped     = "skipped"
	TableFailed      = "failed"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b for all subsequent calls. nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	current = b
}

func backend() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Flush pushes buffered metrics through the installed backend.
func Flush() error { return backend().Flush() }

func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// RecordStep counts one pipeline step and observes its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	b := backend()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts n records of kind ("facts", "indicators", ...).
func RecordRecords(kind string, n int64) {
	if n <= 0 {
		return
	}
	backend().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

func RecordBatch() {
	backend().IncCounter(BatchesTotal, 1, nil)
}

// RecordTable counts one input table by transform outcome: TableTransformed,
// TableSkipped or TableFailed.
func RecordTable(status string) {
	backend().IncCounter(TablesTotal, 1, Labels{"status": status})
}
