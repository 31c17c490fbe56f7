// Package artifact owns the per-job working directory. Each step reads files
// written by earlier steps and writes its own; the presence of those files is
// what the dependency gate checks.

package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Subdirectories created in every workspace.
const (
	DirConfig = "config"
	DirJSON   = "json"
	DirImages = "images"
	DirLogs   = "logs"
)

// ProcessedData is the normalized job record written by the prepare step and
// required by nearly every later step.
const ProcessedData = "config/processed_data.json"

var layout = []string{DirConfig, DirJSON, DirImages, DirLogs}

// Workspace is <jobs_dir>/<job_id>/.
type Workspace struct {
	root  string
	jobID string
}

// NewWorkspace resolves the workspace for jobID under jobsDir. Nothing is
// created on disk until Ensure or Reset is called.
func NewWorkspace(jobsDir, jobID string) (*Workspace, error) {
	if strings.TrimSpace(jobsDir) == "" {
		return nil, fmt.Errorf("artifact: jobs dir is required")
	}
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("artifact: invalid job id %q", jobID)
	}
	root, err := filepath.Abs(filepath.Join(jobsDir, jobID))
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve workspace: %w", err)
	}
	return &Workspace{root: root, jobID: jobID}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// JobID returns the job the workspace belongs to.
func (w *Workspace) JobID() string {
	return w.jobID
}

// Path resolves rel inside the workspace. A trailing slash is dropped.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
}

// JobLogPath returns logs/job-<id>.log.
func (w *Workspace) JobLogPath() string {
	return filepath.Join(w.root, DirLogs, "job-"+w.jobID+".log")
}

// Reset deletes the workspace and rebuilds the empty layout.
func (w *Workspace) Reset() error {
	if w.root == "" || w.root == string(filepath.Separator) || filepath.Dir(w.root) == w.root {
		return fmt.Errorf("artifact: refusing to reset %q", w.root)
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("artifact: remove %s: %w", w.root, err)
	}
	return w.Ensure()
}

// Ensure creates any missing layout directories and keeps existing artifacts.
func (w *Workspace) Ensure() error {
	for _, dir := range layout {
		path := filepath.Join(w.root, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("artifact: ensure %s: %w", path, err)
		}
	}
	return nil
}

// Exists reports whether rel is ready.
func (w *Workspace) Exists(rel string) bool {
	res, _ := w.Check(rel)
	return res.State == StateReady
}

// WriteJSON encodes v to rel with a temp file and rename so readers never
// observe a partial artifact.
func (w *Workspace) WriteJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", rel, err)
	}
	data = append(data, '\n')
	path := w.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: ensure %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("artifact: write %s: %w", rel, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("artifact: write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("artifact: write %s: %w", rel, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("artifact: write %s: %w", rel, err)
	}
	return nil
}

// ReadJSON decodes rel into v.
func (w *Workspace) ReadJSON(rel string, v any) error {
	data, err := os.ReadFile(w.Path(rel))
	if err != nil {
		return fmt.Errorf("artifact: read %s: %w", rel, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifact: parse %s: %w", rel, err)
	}
	return nil
}
