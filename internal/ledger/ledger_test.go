package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/contenta/internal/step"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLatestKeepsNewestOutcomePerStep(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	base := time.Date(2025, 6, 29, 7, 30, 0, 0, time.UTC)

	require.NoError(t, l.BeginRun(ctx, Run{ID: "run-1", JobID: "2506290730-3450", StartStep: "00", Mode: "all", StartedAt: base}))
	require.NoError(t, l.RecordStep(ctx, "run-1", StepOutcome{StepID: "00", Label: "Prepare job data", Status: step.StatusSuccess, Elapsed: 15 * time.Millisecond, FinishedAt: base}))
	require.NoError(t, l.RecordStep(ctx, "run-1", StepOutcome{StepID: "01", Label: "Register domain", Status: step.StatusError, Reason: "exit status 1", FinishedAt: base.Add(time.Second)}))
	require.NoError(t, l.FinishRun(ctx, "run-1", RunAborted, "exit status 1", base.Add(2*time.Second)))

	require.NoError(t, l.BeginRun(ctx, Run{ID: "run-2", JobID: "2506290730-3450", StartStep: "01", Mode: "single", StartedAt: base.Add(time.Minute)}))
	require.NoError(t, l.RecordStep(ctx, "run-2", StepOutcome{StepID: "01", Label: "Register domain", Status: step.StatusSuccess, FinishedAt: base.Add(time.Minute)}))
	require.NoError(t, l.FinishRun(ctx, "run-2", RunCompleted, "", base.Add(2*time.Minute)))

	latest, err := l.Latest(ctx, "2506290730-3450")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, step.StatusSuccess, latest["00"].Status)
	assert.Equal(t, 15*time.Millisecond, latest["00"].Elapsed)
	assert.Equal(t, step.StatusSuccess, latest["01"].Status)
	assert.Equal(t, "run-2", latest["01"].RunID)

	other, err := l.Latest(ctx, "2506290730-9999")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	base := time.Date(2025, 6, 29, 7, 30, 0, 0, time.UTC)
	require.NoError(t, l.BeginRun(ctx, Run{ID: "a", JobID: "j", StartStep: "00", Mode: "all", StartedAt: base}))
	require.NoError(t, l.BeginRun(ctx, Run{ID: "b", JobID: "j", StartStep: "03", Mode: "single", StartedAt: base.Add(time.Hour)}))
	require.NoError(t, l.FinishRun(ctx, "a", RunCompleted, "", base.Add(time.Minute)))

	runs, err := l.Runs(ctx, "j", 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, RunRunning, runs[0].Status)
	assert.True(t, runs[0].EndedAt.IsZero())
	assert.Equal(t, RunCompleted, runs[1].Status)
	assert.Equal(t, base.Add(time.Minute), runs[1].EndedAt)
}

func TestFinishUnknownRunFails(t *testing.T) {
	l := openTestLedger(t)
	assert.Error(t, l.FinishRun(context.Background(), "missing", RunCompleted, "", time.Now()))
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.BeginRun(ctx, Run{ID: "a", JobID: "j", StartStep: "00", Mode: "all"}))
	require.NoError(t, l.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	runs, err := again.Runs(ctx, "j", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
