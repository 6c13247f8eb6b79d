package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/cascade/internal/logging"
	"github.com/solatis/cascade/internal/types"
)

func TestExecuteObjectPayload(t *testing.T) {
	var buf bytes.Buffer
	e := New(logging.NewWithWriter("json", "debug", &buf), slog.LevelInfo)

	p := types.Object(map[string]types.Value{
		"source": types.String("127.0.0.1"),
		"count":  types.Number(3),
	})
	require.NoError(t, e.Execute(context.Background(), p))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "action", rec["msg"])
	assert.Equal(t, "logger", rec["executor"])
	assert.Equal(t, "127.0.0.1", rec["source"])
	assert.Equal(t, float64(3), rec["count"])
}

func TestExecuteScalarPayload(t *testing.T) {
	var buf bytes.Buffer
	e := New(logging.NewWithWriter("json", "debug", &buf), slog.LevelWarn)

	require.NoError(t, e.Execute(context.Background(), types.String("hello")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "hello", rec["payload"])
}

func TestExecuteBelowLevelIsSilent(t *testing.T) {
	var buf bytes.Buffer
	e := New(logging.NewWithWriter("json", "error", &buf), slog.LevelInfo)

	require.NoError(t, e.Execute(context.Background(), types.String("hidden")))
	assert.Empty(t, buf.String())
}
