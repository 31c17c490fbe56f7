package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/config"
	"github.com/kingrea/contenta/internal/job"
	"github.com/kingrea/contenta/internal/ledger"
	"github.com/kingrea/contenta/internal/step"
)

const testJobID = "2506290730-3450"

type fixture struct {
	root       string
	configPath string
	scripts    string
	jobsDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:       root,
		configPath: filepath.Join(root, "config", "config.json"),
		scripts:    filepath.Join(root, "scripts"),
		jobsDir:    filepath.Join(root, "jobs"),
	}
	cfg, err := config.New(f.configPath)
	require.NoError(t, err)
	for key, value := range map[string]string{
		"paths.jobs_dir":    f.jobsDir,
		"paths.data_dir":    filepath.Join(root, "data"),
		"paths.log_dir":     filepath.Join(root, "logs"),
		"paths.scripts_dir": f.scripts,
		"paths.ledger":      filepath.Join(root, "data", "ledger.db"),
	} {
		require.NoError(t, cfg.Set(key, value))
	}
	require.NoError(t, job.NewStore(filepath.Join(root, "data")).Save(&job.Job{ID: testJobID, Confirmed: &job.ConfirmedData{
		WebsiteName: "Lotus Tea House",
		Domain:      "lotus-tea.example",
		UserEmail:   "owner@lotus-tea.example",
	}}))
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"--config", f.configPath}, args...), strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (f *fixture) script(t *testing.T, id, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts require a POSIX shell")
	}
	require.NoError(t, os.MkdirAll(f.scripts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.scripts, "step-"+id), []byte("#!/bin/sh\n"+body), 0o755))
}

func TestRunRejectsBadJobIDBeforeTouchingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nowhere", "config.json")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"--config", missing, "run", "25062907-3450"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "error: startup (arguments): invalid job id")
	_, err := os.Stat(missing)
	assert.True(t, os.IsNotExist(err))
}

func TestRunRejectsOutOfRangeStep(t *testing.T) {
	f := newFixture(t)
	code, _, stderr := f.run(t, "run", testJobID, "--step=20")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "highest defined step is 11")

	code, _, stderr = f.run(t, "run", testJobID, "--step=9")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "expected SS or SS-N")
}

func TestRunRequiresExactlyOneJobID(t *testing.T) {
	f := newFixture(t)
	code, _, stderr := f.run(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "accepts 1 arg")
}

func TestRunDefaultStepPreparesJob(t *testing.T) {
	f := newFixture(t)
	code, stdout, stderr := f.run(t, "run", testJobID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "step [00] Prepare job data: started")
	assert.Contains(t, stdout, "site ready: https://lotus-tea.example")

	ws, err := artifact.NewWorkspace(f.jobsDir, testJobID)
	require.NoError(t, err)
	assert.True(t, ws.Exists(artifact.ProcessedData))
	assert.False(t, ws.Exists("json/domain_info.json"))
}

func TestRunContinuousSkipsWithoutProcessedData(t *testing.T) {
	f := newFixture(t)
	code, stdout, stderr := f.run(t, "run", testJobID, "--step=03", "--all")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "step [03] Create panel site: skipped")
	assert.Contains(t, stdout, "step [04] Issue SSL certificate: started")
	assert.Contains(t, stdout, "0 succeeded, 10 skipped")
}

func TestRunStopsAtFailingStepAndStatusShowsIt(t *testing.T) {
	f := newFixture(t)
	f.script(t, "01", "echo 'registrar: domain unavailable' >&2\nexit 3\n")

	code, _, stderr := f.run(t, "run", testJobID, "--all")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "step [01] Register domain")
	assert.Contains(t, stderr, "domain unavailable")

	code, stdout, stderr := f.run(t, "status", testJobID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "success")
	assert.Contains(t, stdout, "error")
	assert.Contains(t, stdout, "aborted")
	assert.Contains(t, stdout, "deployment failed")

	_, err := os.Stat(filepath.Join(f.root, "logs", "metrics", "job-"+testJobID+".prom"))
	assert.NoError(t, err)
}

func TestStepsListsPipeline(t *testing.T) {
	f := newFixture(t)
	code, stdout, stderr := f.run(t, "steps")
	require.Equal(t, 0, code, stderr)
	for _, want := range []string{"contenta-wordpress", "09-5", "Generate AI images", "config:ai.image_api_key", "(refreshes credentials)"} {
		assert.Contains(t, stdout, want)
	}
}

func TestConfigCommands(t *testing.T) {
	f := newFixture(t)
	code, _, stderr := f.run(t, "config", "set", "cloudflare.api_token", "cf-123")
	require.Equal(t, 0, code, stderr)

	code, stdout, _ := f.run(t, "config", "get", "cloudflare.api_token")
	require.Equal(t, 0, code)
	assert.Equal(t, "\"cf-123\"\n", stdout)

	code, _, stderr = f.run(t, "config", "set", "credentials.refresh_command", `["./refresh.sh","--panel"]`)
	require.Equal(t, 0, code, stderr)
	cfg, err := config.New(f.configPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"./refresh.sh", "--panel"}, cfg.Strings("credentials.refresh_command"))

	code, _, stderr = f.run(t, "config", "validate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "ai.api_key, ai.image_api_key")

	code, stdout, _ = f.run(t, "config", "validate", "paths.jobs_dir", "cloudflare.api_token")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "config ok")

	code, _, stderr = f.run(t, "config", "get", "nope.missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nope.missing is not set")
}

func TestPickNeedsTerminal(t *testing.T) {
	f := newFixture(t)
	code, _, stderr := f.run(t, "run", testJobID, "--pick")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "interactive terminal")

	code, _, stderr = f.run(t, "run", testJobID, "--pick", "--step=01")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "either --step or --pick")
}

func TestPickChoosesStartStep(t *testing.T) {
	f := newFixture(t)
	var offered []string
	var stdout, stderr bytes.Buffer
	a := &app{
		stdin:    strings.NewReader(""),
		stdout:   &stdout,
		stderr:   &stderr,
		terminal: func(io.Reader) bool { return true },
		pick: func(_ io.Reader, _ io.Writer, jobID string, descs []step.Descriptor, _ map[string]ledger.StepOutcome) (string, error) {
			for _, d := range descs {
				offered = append(offered, d.ID)
			}
			return "11", nil
		},
	}
	root := a.rootCommand()
	root.SetArgs([]string{"--config", f.configPath, "run", testJobID, "--pick"})
	require.NoError(t, root.Execute(), stderr.String())
	assert.Len(t, offered, 13)
	assert.Contains(t, stdout.String(), "step [11] Deployment summary: skipped")
}
