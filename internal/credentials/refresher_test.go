package credentials

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/contenta/internal/config"
	"github.com/kingrea/contenta/internal/logbook"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.New(filepath.Join(t.TempDir(), "config", "config.json"))
	require.NoError(t, err)
	return cfg
}

func quietLog(t *testing.T) *logbook.Logbook {
	t.Helper()
	book, err := logbook.New(logbook.Options{Stdout: io.Discard})
	require.NoError(t, err)
	return book
}

func TestRefreshRewritesConfigOutOfBand(t *testing.T) {
	cfg := newConfig(t)
	script := writeScript(t, t.TempDir(), "refresh", `
sed 's/"api_key": ""/"api_key": "fresh-session"/' "$CONTENTA_CONFIG" > "$CONTENTA_CONFIG.new"
mv "$CONTENTA_CONFIG.new" "$CONTENTA_CONFIG"
echo refreshed
`)
	require.NoError(t, cfg.Set(ConfigKey, script))

	r := FromConfig(cfg, quietLog(t))
	require.True(t, r.Configured())
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, "", cfg.String("panel.api_key", ""), "in-memory view unchanged until reload")
	require.NoError(t, cfg.Reload())
	assert.Equal(t, "fresh-session", cfg.String("panel.api_key", ""))
}

func TestRefreshFailureCarriesStderr(t *testing.T) {
	cfg := newConfig(t)
	script := writeScript(t, t.TempDir(), "refresh", "echo 'login page changed' >&2\nexit 3\n")
	require.NoError(t, cfg.Set(ConfigKey, []any{script}))

	err := FromConfig(cfg, quietLog(t)).Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	assert.Contains(t, err.Error(), "login page changed")
}

func TestEmptyCommandIsNoop(t *testing.T) {
	r := FromConfig(newConfig(t), nil)
	assert.False(t, r.Configured())
	assert.NoError(t, r.Refresh(context.Background()))
}
