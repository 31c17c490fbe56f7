package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/step"
	"github.com/kingrea/contenta/internal/steps"
)

func TestDefaultPipelineBuildsRegistry(t *testing.T) {
	def, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "contenta-wordpress", def.ID)

	reg := step.NewRegistry()
	require.NoError(t, steps.RegisterBuiltins(reg, t.TempDir()))
	require.NoError(t, Populate(def, reg))

	assert.Equal(t, []string{"00", "01", "02", "03", "04", "05", "06", "07", "08", "09", "09-5", "10", "11"}, reg.IDs())
	assert.Equal(t, 11, reg.MaxOrdinal())

	prepare, ok := reg.Descriptor("00")
	require.True(t, ok)
	assert.Empty(t, prepare.Requires)
	assert.Equal(t, []string{artifact.ProcessedData}, prepare.Outputs)

	for _, desc := range reg.Descriptors()[1:] {
		assert.Contains(t, desc.Requires, artifact.ProcessedData, desc.ID)
	}
	panel, _ := reg.Descriptor("03")
	assert.True(t, panel.RefreshCredentials)
	images, _ := reg.Descriptor("09-5")
	assert.Equal(t, []string{"ai.image_api_key"}, images.RequiresConfig)
	assert.Equal(t, []string{"paths.jobs_dir", "paths.data_dir", "paths.log_dir"}, def.RequiredConfig)
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no steps":     "id: x\nsteps: []\n",
		"bad id":       "id: x\nsteps:\n  - {id: \"9\", label: a, kind: prepare}\n",
		"duplicate":    "id: x\nsteps:\n  - {id: \"01\", label: a, kind: prepare}\n  - {id: \"01\", label: b, kind: prepare}\n",
		"out of order": "id: x\nsteps:\n  - {id: \"10\", label: a, kind: prepare}\n  - {id: \"09-5\", label: b, kind: prepare}\n",
		"sub first":    "id: x\nsteps:\n  - {id: \"09-5\", label: a, kind: prepare}\n  - {id: \"09\", label: b, kind: prepare}\n",
		"escape":       "id: x\nsteps:\n  - {id: \"01\", label: a, kind: prepare, requires: [../other/config.json]}\n",
		"unknown key":  "id: x\nsteps:\n  - {id: \"01\", label: a, kind: prepare, needs: [a]}\n",
		"no label":     "id: x\nsteps:\n  - {id: \"01\", kind: prepare}\n",
	}
	for name, payload := range cases {
		_, err := Parse([]byte(payload))
		assert.Error(t, err, name)
	}
}

func TestPopulateRejectsUnknownKind(t *testing.T) {
	def, err := Parse([]byte("id: x\nsteps:\n  - {id: \"01\", label: a, kind: teleport}\n"))
	require.NoError(t, err)
	reg := step.NewRegistry()
	require.NoError(t, steps.RegisterBuiltins(reg, t.TempDir()))
	err = Populate(def, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "teleport"`)
}

func TestLoadFileOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	payload := strings.Join([]string{
		"id: mini",
		"name: Minimal",
		"steps:",
		"  - {id: \"00\", label: Prepare, kind: prepare}",
		"  - {id: \"05\", label: Database, kind: command, script: create-db.sh}",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mini", def.ID)
	assert.Equal(t, "create-db.sh", def.Steps[1].Descriptor().Script)

	def, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "contenta-wordpress", def.ID)
}
