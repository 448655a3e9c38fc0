package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wudi/llmgateway/internal/coalesce"
	"github.com/wudi/llmgateway/internal/config"
	"github.com/wudi/llmgateway/internal/dispatch"
	"github.com/wudi/llmgateway/internal/httpclient"
	"github.com/wudi/llmgateway/internal/provider"
	"github.com/wudi/llmgateway/internal/router"
)

// newMetricsRegistry isolates each Server's collector on its own
// registry so multiple Servers (as in tests) never collide on metric
// names, and so the admin server's /metrics handler can gather from the
// exact registry the collector registered against.
func newMetricsRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func coalescerFromConfig(cfg config.CoalesceConfig) *coalesce.Coalescer {
	return coalesce.New(cfg.LeaderTTL, cfg.NegativeCacheTTL, cfg.NegativeCacheSize)
}

// httpClientFromConfig builds the process-wide shared client every
// provider adapter streams through.
func httpClientFromConfig() *http.Client {
	return httpclient.New(httpclient.Options{RequestTimeout: 2 * time.Minute})
}

// newProviderAdapter builds the Provider implementation matching pc's
// wire protocol.
func newProviderAdapter(name string, pc config.Provider) provider.Provider {
	switch pc.Kind {
	case "anthropic":
		return provider.NewAnthropic(pc.APIKey, pc.BaseURL)
	default:
		return provider.NewOpenAICompatible(name, pc.APIKey, pc.BaseURL)
	}
}

func parseOrgRules(lines []string) []router.OrgRule {
	rules := make([]router.OrgRule, 0, len(lines))
	for _, line := range lines {
		if r, ok := router.ParseOrgPreferenceRule(line); ok {
			rules = append(rules, r)
		}
	}
	return rules
}

func defaultProvider(providers map[string]config.Provider) dispatch.Defaults {
	for name, pc := range providers {
		if len(pc.Models) > 0 {
			return dispatch.Defaults{Provider: name, Model: pc.Models[0]}
		}
	}
	return dispatch.Defaults{}
}
