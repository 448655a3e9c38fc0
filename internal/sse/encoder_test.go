package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

func TestNewEncoderSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	require.NoError(t, err)
	require.NotNil(t, enc)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, 200, rec.Code)
}

func TestDeltaFramesAsSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	require.NoError(t, err)

	require.NoError(t, enc.Delta("hello"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: delta")
	assert.Contains(t, body, `"type":"delta"`)
	assert.Contains(t, body, `"content":"hello"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestDoneProjectsOnlyWireFields(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	require.NoError(t, err)

	meta := gatewaytypes.ProviderMeta{Provider: "anthropic", Model: "claude", UsageInputTokens: 10, UsageOutputTokens: 20}
	require.NoError(t, enc.Done(1234, "deadbeef", meta))

	body := rec.Body.String()
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"total_ms":1234`)
	assert.Contains(t, body, `"final_hash":"deadbeef"`)
	assert.Contains(t, body, `"input_tokens":10`)
	assert.Contains(t, body, `"output_tokens":20`)
	assert.NotContains(t, body, "ttft_ms", "done must not leak meta-only fields")
}

func TestErrorIncludesRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	require.NoError(t, err)

	require.NoError(t, enc.Error("rate_limited", "slow down", true))
	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, `"retryable":true`)
}

// plainWriter embeds only the http.ResponseWriter interface, so Flush
// is not promoted even though the underlying recorder implements it.
type plainWriter struct{ http.ResponseWriter }

func TestNewEncoderRejectsNonFlusher(t *testing.T) {
	_, err := NewEncoder(plainWriter{httptest.NewRecorder()})
	require.Error(t, err)
}
