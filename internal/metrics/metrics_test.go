package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/contenta/internal/step"
)

func TestObserveStepCountsByStatus(t *testing.T) {
	rec := New("2506290730-3450")
	ok := step.Success(nil)
	ok.Elapsed = 2 * time.Second
	rec.ObserveStep("00", ok)
	rec.ObserveStep("03", step.Skipped("missing artifacts"))
	rec.ObserveStep("04", step.Failed(errors.New("boom")))

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.stepResults.WithLabelValues("00", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.stepResults.WithLabelValues("03", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.stepResults.WithLabelValues("04", "error")))
	assert.Equal(t, 3, testutil.CollectAndCount(rec.stepDuration))
}

func TestWriteTextfile(t *testing.T) {
	rec := New("2506290730-3450")
	rec.ObserveStep("00", step.Success(nil))
	rec.ObserveRun(3*time.Second, false)
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.runDuration))

	path := TextfilePath(t.TempDir(), "2506290730-3450")
	require.NoError(t, rec.WriteTextfile(path))
	assert.Equal(t, "job-2506290730-3450.prom", filepath.Base(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `contenta_step_results_total{job_id="2506290730-3450",status="success",step="00"} 1`)
	assert.Contains(t, text, `contenta_run_duration_seconds{job_id="2506290730-3450"} 3`)
	assert.Contains(t, text, `contenta_run_aborted{job_id="2506290730-3450"} 0`)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveStep("00", step.Success(nil))
	rec.ObserveRun(time.Second, true)
	assert.NoError(t, rec.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}
