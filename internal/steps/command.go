package steps

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kingrea/contenta/internal/step"
)

// Environment passed to every command step.
const (
	EnvJobID       = "CONTENTA_JOB_ID"
	EnvWorkdir     = "CONTENTA_WORKDIR"
	EnvConfig      = "CONTENTA_CONFIG"
	EnvStepID      = "CONTENTA_STEP_ID"
	EnvDomain      = "CONTENTA_DOMAIN"
	EnvWebsiteName = "CONTENTA_WEBSITE_NAME"
	EnvUserEmail   = "CONTENTA_USER_EMAIL"
)

const stderrTailLines = 5

// ScriptName is the conventional executable name for id.
func ScriptName(id string) string {
	return "step-" + id
}

// CommandFactory resolves <scriptsDir>/step-<id>, or the descriptor's script
// override, to a Command. A missing or non-executable script is reported as
// step.ErrStepNotFound.
func CommandFactory(scriptsDir string) step.Factory {
	return func(desc step.Descriptor) (step.Executable, error) {
		path, err := resolveScript(scriptsDir, desc)
		if err != nil {
			return nil, err
		}
		return &Command{Path: path}, nil
	}
}

func resolveScript(scriptsDir string, desc step.Descriptor) (string, error) {
	name := desc.Script
	if name == "" {
		name = ScriptName(desc.ID)
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(scriptsDir, name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &step.NotFoundError{ID: desc.ID, Detail: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &step.NotFoundError{ID: desc.ID, Detail: "no executable at " + abs}
		}
		return "", &step.NotFoundError{ID: desc.ID, Detail: err.Error()}
	}
	if info.IsDir() {
		return "", &step.NotFoundError{ID: desc.ID, Detail: abs + " is a directory"}
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", &step.NotFoundError{ID: desc.ID, Detail: abs + " is not executable"}
	}
	return abs, nil
}

// Command runs an external executable as a step body. The process starts in
// the workspace, receives the step context as JSON on stdin and may report its
// result as a JSON object with a "status" key on its last stdout line.
type Command struct {
	Path string
	Args []string
}

type commandInput struct {
	JobID         string         `json:"job_id"`
	StepID        string         `json:"step_id"`
	Label         string         `json:"label"`
	Workdir       string         `json:"workdir"`
	ConfigPath    string         `json:"config_path"`
	SiteURL       string         `json:"site_url"`
	ConfirmedData map[string]any `json:"confirmed_data"`
	Requires      []string       `json:"requires,omitempty"`
	Outputs       []string       `json:"outputs,omitempty"`
}

// Run implements step.Executable.
func (c *Command) Run(ctx context.Context, sc *step.Context) (step.Result, error) {
	input, err := json.Marshal(c.input(sc))
	if err != nil {
		return step.Result{}, fmt.Errorf("command %s: encode input: %w", sc.Step.ID, err)
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = sc.Workspace.Root()
	cmd.Env = append(os.Environ(), c.env(sc)...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return step.Result{}, fmt.Errorf("command %s: %w", sc.Step.ID, err)
	}
	if err := cmd.Start(); err != nil {
		return step.Failed(fmt.Errorf("command %s: start %s: %w", sc.Step.ID, c.Path, err)), nil
	}

	var last string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last = line
		if _, ok := parseReport(line); !ok {
			sc.Log.Info("[%s] %s", sc.Step.ID, line)
		}
	}
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return step.Failed(fmt.Errorf("command %s: %w", sc.Step.ID, ctx.Err())), nil
	}
	if waitErr != nil {
		return step.Failed(fmt.Errorf("command %s: %w%s", sc.Step.ID, waitErr, formatTail(stderr.String()))), nil
	}

	res := step.Success(nil)
	if rep, ok := parseReport(last); ok {
		res, err = rep.result()
		if err != nil {
			return step.Failed(fmt.Errorf("command %s: %w", sc.Step.ID, err)), nil
		}
	}
	if res.Status == step.StatusSuccess {
		for _, rel := range sc.Step.Outputs {
			if !sc.Workspace.Exists(rel) {
				sc.Log.Warn("step %s reported success but did not write %s", sc.Step.ID, rel)
			}
		}
	}
	return res, nil
}

func (c *Command) input(sc *step.Context) commandInput {
	in := commandInput{
		StepID:   sc.Step.ID,
		Label:    sc.Step.Label,
		Workdir:  sc.Workspace.Root(),
		SiteURL:  SiteURL(sc),
		Requires: sc.Step.Requires,
		Outputs:  sc.Step.Outputs,
	}
	if sc.Job != nil {
		in.JobID = sc.Job.ID
		if sc.Job.Confirmed != nil {
			in.ConfirmedData = sc.Job.Confirmed.Fields()
		}
	}
	if sc.Config != nil {
		in.ConfigPath = absPath(sc.Config.Path())
	}
	return in
}

func (c *Command) env(sc *step.Context) []string {
	env := []string{
		EnvWorkdir + "=" + sc.Workspace.Root(),
		EnvStepID + "=" + sc.Step.ID,
	}
	if sc.Config != nil {
		env = append(env, EnvConfig+"="+absPath(sc.Config.Path()))
	}
	if sc.Job != nil {
		env = append(env, EnvJobID+"="+sc.Job.ID)
		if data := sc.Job.Confirmed; data != nil {
			env = append(env,
				EnvDomain+"="+data.Domain,
				EnvWebsiteName+"="+data.WebsiteName,
				EnvUserEmail+"="+data.UserEmail,
			)
		}
	}
	return env
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// report is the optional structured result line.
type report map[string]any

func parseReport(line string) (report, bool) {
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}
	var r report
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return nil, false
	}
	if _, ok := r["status"].(string); !ok {
		return nil, false
	}
	return r, true
}

func (r report) result() (step.Result, error) {
	status, err := step.ParseStatus(r["status"].(string))
	if err != nil {
		return step.Result{}, err
	}
	reason, _ := r["reason"].(string)
	if reason == "" {
		reason, _ = r["message"].(string)
	}
	payload := map[string]any{}
	for key, value := range r {
		if key == "status" || key == "reason" {
			continue
		}
		payload[key] = value
	}
	switch status {
	case step.StatusError:
		if reason == "" {
			reason = "step reported error"
		}
		res := step.Failed(errors.New(reason))
		res.Payload = payload
		return res, nil
	case step.StatusSkipped:
		res := step.Skipped("%s", reason)
		res.Payload = payload
		return res, nil
	default:
		res := step.Success(payload)
		res.Reason = reason
		return res, nil
	}
}

func formatTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return ": " + strings.Join(lines, " | ")
}
