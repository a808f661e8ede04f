// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. Load runs are short-lived, so metrics are pushed at the
// end of a run instead of being scraped.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"apiload/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend. The job label is the
// Pushgateway grouping key, so collectors carry only the remaining labels.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stateCounter  *prometheus.CounterVec
	stateDuration *prometheus.SummaryVec
	rowCounter    *prometheus.CounterVec
	sourceCounter prometheus.Counter
	failCounter   *prometheus.CounterVec
}

// NewBackend constructs a Pushgateway backend grouped under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "apiload"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stateCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StateTotal,
			Help: "Loader state executions by state and status.",
		}, []string{"state", "status"}),
		stateDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StateDuration,
			Help:       "Duration of loader states in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"state", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows handled by kind (fetched, written).",
		}, []string{"kind"}),
		sourceCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.SourcesTotal,
			Help: "Payloads fetched.",
		}),
		failCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FailuresTotal,
			Help: "Failed runs by failure kind.",
		}, []string{"kind"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"state counter":  b.stateCounter,
		"state summary":  b.stateDuration,
		"row counter":    b.rowCounter,
		"source counter": b.sourceCounter,
		"fail counter":   b.failCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StateTotal:
		if b.stateCounter != nil {
			b.stateCounter.WithLabelValues(labels["state"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.SourcesTotal:
		if b.sourceCounter != nil {
			b.sourceCounter.Add(delta)
		}
	case metrics.FailuresTotal:
		if b.failCounter != nil {
			b.failCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StateDuration || b.stateDuration == nil {
		return
	}
	b.stateDuration.WithLabelValues(labels["state"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
