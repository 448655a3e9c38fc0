package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/llmgateway/internal/config"
	"github.com/wudi/llmgateway/internal/metrics"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.AdminPort = 0
	cfg.Providers = map[string]config.Provider{
		"openai": {
			Name:          "openai",
			Kind:          "openai",
			BaseURL:       "https://example.invalid",
			Models:        []string{"gpt-test"},
			ContextWindow: 8000,
		},
	}
	return cfg
}

func TestNewServerWiresEveryProvider(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)
	require.NotNil(t, srv.pipeline)
	assert.NotNil(t, srv.pipeline.Providers.Get("openai"))
}

func TestAdminHealthEndpoint(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.adminHandler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAdminAggregatesEndpointReportsHealthyWithNoTraffic(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/aggregates", nil)
	rec := httptest.NewRecorder()
	srv.adminHandler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Empty(t, rec.Header().Get("x-gateway-health"))
}

func TestAdminMetricsEndpointServesRegisteredCollectorMetrics(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)

	srv.metrics.Record(metrics.Record{Provider: "openai", Model: "gpt-test", Status: 200, TotalMs: 120})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.adminHandler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_requests_total")
}

func TestTwoServersDoNotCollideOnMetricRegistration(t *testing.T) {
	_, err1 := NewServer(testConfig())
	_, err2 := NewServer(testConfig())
	require.NoError(t, err1)
	require.NoError(t, err2, "each Server must register metrics on its own isolated registry")
}
