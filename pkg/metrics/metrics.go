// Package metrics counts job events and run durations and writes them in
// the Prometheus text format for a node-exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/job"
)

const namespace = "fsledger"

// Recorder holds the job metrics of one process. Each Recorder has its own
// registry, so several can coexist.
type Recorder struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	duration *prometheus.GaugeVec
	outcome  *prometheus.GaugeVec
	lastRun  *prometheus.GaugeVec
}

// New creates a Recorder.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Events emitted by jobs, by job kind and event type.",
		}, []string{"kind", "type"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_duration_seconds",
			Help:      "Wall time of the last run of each job kind.",
		}, []string{"kind"}),
		outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_outcome",
			Help:      "1 for the outcome of the last run of each job kind, 0 otherwise.",
		}, []string{"kind", "outcome"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_run_timestamp_seconds",
			Help:      "Unix time the last run of each job kind ended.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.events, r.duration, r.outcome, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Sink returns a job.Sink counting every event of kind.
func (r *Recorder) Sink(kind job.Kind) job.Sink {
	return job.SinkFunc(func(e job.Event) {
		r.events.WithLabelValues(string(kind), string(e.Type)).Inc()
	})
}

// Outcome names how a run ended.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, job.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// ObserveRun records the duration and outcome of a finished run.
func (r *Recorder) ObserveRun(kind job.Kind, started time.Time, err error) {
	end := time.Now()
	r.duration.WithLabelValues(string(kind)).Set(end.Sub(started).Seconds())
	r.lastRun.WithLabelValues(string(kind)).Set(float64(end.Unix()))
	for _, o := range []string{"done", "cancelled", "error"} {
		v := 0.0
		if o == Outcome(err) {
			v = 1
		}
		r.outcome.WithLabelValues(string(kind), o).Set(v)
	}
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
