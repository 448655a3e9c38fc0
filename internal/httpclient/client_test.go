package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsWhenUnset(t *testing.T) {
	client := New(Options{})
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 50, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 5*time.Minute, transport.IdleConnTimeout)
}

func TestNewHonorsExplicitOptions(t *testing.T) {
	client := New(Options{MaxIdleConnsPerHost: 5, IdleConnTimeout: time.Minute, RequestTimeout: 2 * time.Second})
	transport := client.Transport.(*http.Transport)
	assert.Equal(t, 5, transport.MaxIdleConnsPerHost)
	assert.Equal(t, time.Minute, transport.IdleConnTimeout)
	assert.Equal(t, 2*time.Second, client.Timeout)
}

func TestPrepareStreamRequestDisablesCompression(t *testing.T) {
	req := httptest.NewRequest("GET", "http://example.invalid/stream", nil)
	PrepareStreamRequest(req)
	assert.Equal(t, "identity", req.Header.Get("Accept-Encoding"))
}

func TestWarmupSkipsUnparseableURLsWithoutPanicking(t *testing.T) {
	client := New(Options{RequestTimeout: time.Second})
	assert.NotPanics(t, func() {
		Warmup(context.Background(), client, []string{"://not-a-valid-url"})
	})
}

func TestWarmupHitsReachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Options{RequestTimeout: time.Second})
	assert.NotPanics(t, func() {
		Warmup(context.Background(), client, []string{server.URL})
	})
}
