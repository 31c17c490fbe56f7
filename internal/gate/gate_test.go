package gate

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/step"
)

type fakeConfig map[string]string

func (f fakeConfig) Missing(keys []string) []string {
	var missing []string
	for _, key := range keys {
		if f[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func newWorkspace(t *testing.T) *artifact.Workspace {
	t.Helper()
	ws, err := artifact.NewWorkspace(t.TempDir(), "2506290730-3450")
	require.NoError(t, err)
	require.NoError(t, ws.Reset())
	return ws
}

func TestStepWithoutDeclarationsAlwaysPasses(t *testing.T) {
	d, err := Check(newWorkspace(t), nil, step.Descriptor{ID: "00"})
	require.NoError(t, err)
	assert.True(t, d.Pass)
	assert.Equal(t, step.StatusSuccess, d.Result().Status)
}

func TestMissingArtifactsSkip(t *testing.T) {
	ws := newWorkspace(t)
	desc := step.Descriptor{ID: "03", Requires: []string{artifact.ProcessedData, "json/site_info.json"}}
	d, err := Check(ws, nil, desc)
	require.NoError(t, err)
	assert.False(t, d.Pass)
	assert.Equal(t, []string{artifact.ProcessedData, "json/site_info.json"}, d.Missing)
	res := d.Result()
	assert.Equal(t, step.StatusSkipped, res.Status)
	assert.Equal(t, "missing artifacts: config/processed_data.json, json/site_info.json", res.Reason)

	require.NoError(t, ws.WriteJSON(artifact.ProcessedData, map[string]string{}))
	require.NoError(t, ws.WriteJSON("json/site_info.json", map[string]string{}))
	d, err = Check(ws, nil, desc)
	require.NoError(t, err)
	assert.True(t, d.Pass)
}

func TestDirectoryRequirementNeedsEntries(t *testing.T) {
	ws := newWorkspace(t)
	desc := step.Descriptor{ID: "10", Requires: []string{"images/"}}
	d, err := Check(ws, nil, desc)
	require.NoError(t, err)
	assert.False(t, d.Pass)

	require.NoError(t, os.WriteFile(ws.Path("images/a.png"), []byte("x"), 0o644))
	d, err = Check(ws, nil, desc)
	require.NoError(t, err)
	assert.True(t, d.Pass)
}

func TestMissingConfigSkipsWithKeysNamed(t *testing.T) {
	ws := newWorkspace(t)
	desc := step.Descriptor{ID: "09", RequiresConfig: []string{"ai.api_key", "ai.model"}}
	d, err := Check(ws, fakeConfig{"ai.model": "gpt"}, desc)
	require.NoError(t, err)
	assert.False(t, d.Pass)
	assert.Empty(t, d.Missing)
	assert.Equal(t, []string{"ai.api_key"}, d.MissingConfig)
	assert.Equal(t, "missing config: ai.api_key", d.Reason())
}
