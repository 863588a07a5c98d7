// Package metrics exposes run observations as prometheus collectors.
// Runs are one-shot processes, so the registry is written to a node-exporter
// textfile at the end of each command instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sisyphus"

// Recorder owns the collectors of one process
type Recorder struct {
	registry    *prometheus.Registry
	steps       *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	transfers   *prometheus.CounterVec
	created     *prometheus.CounterVec
	lastRun     *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of checkpointed run steps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"step", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_transitions_total",
			Help:      "Persisted analysis status transitions.",
		}, []string{"analysis_type", "from", "to"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Storage transfers by outcome. Skipped means source and destination were the same storage.",
		}, []string{"from", "to", "outcome"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_lookups_total",
			Help:      "Analysis registry results: created, existing, or lost_race.",
		}, []string{"analysis_type", "result"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time a run of the analysis type last finished, by final status.",
		}, []string{"analysis_type", "status"}),
	}
	r.registry.MustRegister(r.steps, r.transitions, r.transfers, r.created, r.lastRun)
	return r
}

// Registry exposes the underlying registry for gathering
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep records a finished step
func (r *Recorder) ObserveStep(step string, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(step, outcome).Observe(d.Seconds())
}

// ObserveTransition records a persisted status change
func (r *Recorder) ObserveTransition(analysisType string, from string, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(analysisType, from, to).Inc()
}

// ObserveTransfer records the outcome of one transfer
func (r *Recorder) ObserveTransfer(from string, to string, outcome string) {
	if r == nil {
		return
	}
	r.transfers.WithLabelValues(from, to, outcome).Inc()
}

// ObserveRegistry records how a get-or-create call resolved
func (r *Recorder) ObserveRegistry(analysisType string, result string) {
	if r == nil {
		return
	}
	r.created.WithLabelValues(analysisType, result).Inc()
}

// ObserveRunFinished stamps the end of a run
func (r *Recorder) ObserveRunFinished(analysisType string, status string, at time.Time) {
	if r == nil {
		return
	}
	r.lastRun.WithLabelValues(analysisType, status).Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the text exposition format.
// An empty path disables the export
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
