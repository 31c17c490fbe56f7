// Package metrics keeps per-run step timings in a private Prometheus registry
// and writes them out in the node_exporter textfile format when a run ends.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kingrea/contenta/internal/step"
)

// Recorder holds the collectors for one run.
type Recorder struct {
	registry     *prometheus.Registry
	stepDuration *prometheus.HistogramVec
	stepResults  *prometheus.CounterVec
	runDuration  prometheus.Gauge
	runAborted   prometheus.Gauge
}

// New builds a recorder labelled with jobID.
func New(jobID string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"job_id": jobID}
	return &Recorder{
		registry: reg,
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "contenta_step_duration_seconds",
			Help:        "Wall-clock duration of each pipeline step.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step", "status"}),
		stepResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "contenta_step_results_total",
			Help:        "Step outcomes by status.",
			ConstLabels: constLabels,
		}, []string{"step", "status"}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "contenta_run_duration_seconds",
			Help:        "Total duration of the last run.",
			ConstLabels: constLabels,
		}),
		runAborted: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "contenta_run_aborted",
			Help:        "1 when the last run aborted on a step error.",
			ConstLabels: constLabels,
		}),
	}
}

// ObserveStep records one step outcome.
func (r *Recorder) ObserveStep(id string, res step.Result) {
	if r == nil {
		return
	}
	status := string(res.Status)
	r.stepDuration.WithLabelValues(id, status).Observe(res.Elapsed.Seconds())
	r.stepResults.WithLabelValues(id, status).Inc()
}

// ObserveRun records the run total.
func (r *Recorder) ObserveRun(elapsed time.Duration, aborted bool) {
	if r == nil {
		return
	}
	r.runDuration.Set(elapsed.Seconds())
	if aborted {
		r.runAborted.Set(1)
	} else {
		r.runAborted.Set(0)
	}
}

// Registry exposes the underlying gatherer.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the collected metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: ensure %s: %w", filepath.Dir(path), err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

// TextfilePath returns <logDir>/metrics/job-<id>.prom.
func TextfilePath(logDir, jobID string) string {
	return filepath.Join(logDir, "metrics", "job-"+jobID+".prom")
}
