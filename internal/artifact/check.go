package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult is the outcome of Workspace.Check.
type CheckResult struct {
	Rel   string
	Path  string
	State State
	Err   error
}

// Check inspects rel. A path ending in "/" names a directory that must exist
// and hold at least one entry; anything else names a regular file. An
// unreadable path reports StateError together with the error.
func (w *Workspace) Check(rel string) (CheckResult, error) {
	wantDir := strings.HasSuffix(rel, "/")
	path := w.Path(rel)
	res := CheckResult{Rel: rel, Path: path}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.State = StateMissing
			return res, nil
		}
		res.State, res.Err = StateError, err
		return res, err
	}
	if !wantDir {
		if info.IsDir() {
			res.State, res.Err = StateInvalid, fmt.Errorf("artifact: %s is a directory", rel)
			return res, nil
		}
		res.State = StateReady
		return res, nil
	}
	if !info.IsDir() {
		res.State, res.Err = StateInvalid, fmt.Errorf("artifact: %s is not a directory", rel)
		return res, nil
	}
	empty, err := dirEmpty(path)
	if err != nil {
		res.State, res.Err = StateError, err
		return res, err
	}
	if empty {
		res.State = StateMissing
		return res, nil
	}
	res.State = StateReady
	return res, nil
}

func dirEmpty(path string) (bool, error) {
	dir, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer dir.Close()
	_, err = dir.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
