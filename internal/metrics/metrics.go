// Package metrics records operational metrics of load runs behind a small
// backend-agnostic interface.
//
// A global backend defaults to a no-op, so recording is always safe even when
// no backend is configured. Concrete backends live in subpackages
// (prompush for a Prometheus Pushgateway, datadog for DogStatsD) and are
// installed with SetBackend by the command wiring.
package metrics

import "time"

// Metric names emitted by the helpers below.
const (
	StateTotal    = "apiload_state_total"
	StateDuration = "apiload_state_duration_seconds"
	RowsTotal     = "apiload_rows_total"
	SourcesTotal  = "apiload_sources_total"
	FailuresTotal = "apiload_failures_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordState counts one pass through a loader state and records its
// duration, labelled with success or failure.
func RecordState(job, state string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"state":  state,
		"status": status,
	}

	backend.IncCounter(StateTotal, 1, lbls)
	backend.ObserveHistogram(StateDuration, d.Seconds(), lbls)
}

// RecordRows increments the row counter for job. Kinds used by the loader
// are "fetched" and "written".
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordSources counts fetched payloads.
func RecordSources(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(SourcesTotal, float64(delta), Labels{
		"job": job,
	})
}

// RecordFailure counts a failed run by failure kind.
func RecordFailure(job, kind string) {
	backend.IncCounter(FailuresTotal, 1, Labels{
		"job":  job,
		"kind": kind,
	})
}
