// Package credentials invokes the external process that renews short-lived
// session credentials by rewriting the config file.
package credentials

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kingrea/contenta/internal/config"
	"github.com/kingrea/contenta/internal/logbook"
)

// ConfigKey holds the refresh command, as a string or a list.
const ConfigKey = "credentials.refresh_command"

// ErrRefreshFailed wraps a non-zero exit of the refresh command.
var ErrRefreshFailed = errors.New("credential refresh failed")

// Refresher runs Command synchronously. An empty Command is a no-op.
type Refresher struct {
	Command    []string
	ConfigPath string
	Dir        string
	Log        *logbook.Logbook
}

// FromConfig reads the refresh command from cfg.
func FromConfig(cfg *config.Config, log *logbook.Logbook) *Refresher {
	return &Refresher{
		Command:    cfg.Strings(ConfigKey),
		ConfigPath: cfg.Path(),
		Dir:        cfg.Dir(),
		Log:        log,
	}
}

// Configured reports whether a command is set.
func (r *Refresher) Configured() bool {
	return r != nil && len(r.Command) > 0
}

// Refresh runs the command and waits for it. Output lines are logged at
// debug level; stderr is included in the error on failure.
func (r *Refresher) Refresh(ctx context.Context) error {
	if !r.Configured() {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), config.EnvPath+"="+r.ConfigPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Log.Info("refreshing credentials: %s", strings.Join(r.Command, " "))
	err := cmd.Run()
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			r.Log.Debug("refresh: %s", line)
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("credentials: %w", ctx.Err())
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("credentials: %w: %s", ErrRefreshFailed, detail)
	}
	return nil
}
