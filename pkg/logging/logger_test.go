package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.Level = "debug"
	return NewWithWriter(cfg, buf)
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	return doc
}

func TestLogger_ContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithOrganizationID(ctx, "org-1")
	ctx = WithExecutionID(ctx, "exec-1")

	logger.InfoContext(ctx, "hello")

	doc := lastLine(t, &buf)
	assert.Equal(t, "corr-1", doc["correlation_id"])
	assert.Equal(t, "org-1", doc["organization_id"])
	assert.Equal(t, "exec-1", doc["execution_id"])
}

func TestLogger_WithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.WithModule("governance").WithStep(2, "send_message").Info("step done")

	doc := lastLine(t, &buf)
	assert.Equal(t, "governance", doc["module"])
	assert.Equal(t, float64(2), doc["step_index"])
	assert.Equal(t, "send_message", doc["step_type"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("warning").String())
	assert.Equal(t, "INFO", ParseLevel("unknown").String())
}
