package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextCarriesLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production").With("request_id", "r-1")

	ctx := With(context.Background(), l)
	From(ctx).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "r-1", rec["request_id"])
}

func TestFromFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), From(context.Background()))
	assert.Same(t, slog.Default(), From(With(context.Background(), nil)))
}

func TestDevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "development").Debug("verbose")
	assert.Contains(t, buf.String(), "verbose")

	buf.Reset()
	NewWithWriter(&buf, "production").Debug("verbose")
	assert.Empty(t, buf.String())
}
