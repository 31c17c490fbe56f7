package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitWithoutPathIsNoop(t *testing.T) {
	shutdown, err := Init("", "dev")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWritesSpansToFile(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	path := filepath.Join(t.TempDir(), "traces", "run.jsonl")
	shutdown, err := Init(path, "dev")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "contenta.run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Name":"contenta.run"`)
	assert.Contains(t, string(raw), ServiceName)
}
