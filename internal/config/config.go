// Package config defines the gateway's configuration tree and defaults.
package config

import "time"

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging"`
	Thread    ThreadConfig        `yaml:"thread"`
	Coalesce  CoalesceConfig      `yaml:"coalesce"`
	Hub       HubConfig           `yaml:"hub"`
	Router    RouterConfig        `yaml:"router"`
	Memory    MemoryConfig        `yaml:"memory"`
	Rewriter  RewriterConfig      `yaml:"query_rewriter"`
	Providers map[string]Provider `yaml:"providers"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	AdminPort    int           `yaml:"admin_port"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ThreadConfig defines the in-memory thread store's eviction window and
// the context builder's sliding history window.
type ThreadConfig struct {
	// MaxTurnPairs bounds the store's own retention (eviction capacity),
	// in (user, assistant) pairs.
	MaxTurnPairs int           `yaml:"max_turn_pairs"`
	IdleTTL      time.Duration `yaml:"idle_ttl"`

	// WindowTurns is thread.window_turns: how many of the retained turns
	// the context builder pulls into a single dispatch's messages array.
	// Independent of MaxTurnPairs, which only bounds what the store keeps.
	WindowTurns int `yaml:"window_turns"`
}

// CoalesceConfig defines request-coalescing behavior.
type CoalesceConfig struct {
	Enabled            bool          `yaml:"enabled"`
	LeaderTTL          time.Duration `yaml:"leader_ttl"`
	FollowerGrace      time.Duration `yaml:"follower_grace"`
	NegativeCacheTTL   time.Duration `yaml:"negative_cache_ttl"`
	NegativeCacheSize  int           `yaml:"negative_cache_size"`
}

// HubConfig defines stream-hub fan-out behavior.
type HubConfig struct {
	SubscriberQueueSize int           `yaml:"subscriber_queue_size"`
	DrainGrace          time.Duration `yaml:"drain_grace"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`

	// ClientFirstTokenTimeout is client_first_token_timeout_ms: how long
	// a stream subscriber (leader or follower) waits for the first
	// meta/delta event before giving up with a timeout error.
	ClientFirstTokenTimeout time.Duration `yaml:"client_first_token_timeout"`
}

// RouterConfig defines dynamic-router scoring weights and exploration.
type RouterConfig struct {
	Epsilon            float64            `yaml:"epsilon"`
	WeightsByPriority  map[string]Weights `yaml:"weights_by_priority"`
	OrgPreferenceRules []string           `yaml:"org_preference_rules"`
}

// Weights are the scoring weights for one routing priority class.
type Weights struct {
	Capability float64 `yaml:"w_cap"`
	Latency    float64 `yaml:"w_lat"`
	Cost       float64 `yaml:"w_cost"`
	History    float64 `yaml:"w_hist"`
}

// MemoryConfig controls the optional memory-provider augmentation.
type MemoryConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxSnippetLen int `yaml:"max_snippet_len"`
}

// RewriterConfig controls the optional query-rewrite step.
type RewriterConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// Provider is the static configuration for one upstream LLM provider.
type Provider struct {
	Name              string        `yaml:"name"`
	Kind              string        `yaml:"kind"` // "anthropic" or "openai"; defaults to "openai"
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Models            []string      `yaml:"models"`
	ContextWindow     int           `yaml:"context_window"`
	RatePerSecond     float64       `yaml:"rate_per_second"`
	Burst             int           `yaml:"burst"`
	MaxConcurrent     int64         `yaml:"max_concurrent"`
	CostPerMTokIn     float64       `yaml:"cost_per_mtok_in"`
	CostPerMTokOut    float64       `yaml:"cost_per_mtok_out"`
	BreakerThreshold  uint32        `yaml:"breaker_threshold"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming responses must not be write-deadline-bound
			IdleTimeout:  5 * time.Minute,
			AdminPort:    8081,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Thread: ThreadConfig{
			// 25 pairs = 50 turns, matching the store's default capacity.
			MaxTurnPairs: 25,
			IdleTTL:      30 * time.Minute,
			WindowTurns:  20,
		},
		Coalesce: CoalesceConfig{
			Enabled:           true,
			LeaderTTL:         30 * time.Second,
			FollowerGrace:     500 * time.Millisecond,
			NegativeCacheTTL:  2 * time.Second,
			NegativeCacheSize: 4096,
		},
		Hub: HubConfig{
			SubscriberQueueSize:     256,
			DrainGrace:              2 * time.Second,
			HeartbeatInterval:       15 * time.Second,
			ClientFirstTokenTimeout: 10 * time.Second,
		},
		Router: RouterConfig{
			Epsilon: 0.1,
			WeightsByPriority: map[string]Weights{
				"default": {Capability: 0.4, Latency: 0.2, Cost: 0.2, History: 0.2},
				"latency": {Capability: 0.2, Latency: 0.5, Cost: 0.1, History: 0.2},
				"cost":    {Capability: 0.2, Latency: 0.1, Cost: 0.5, History: 0.2},
			},
		},
		Memory: MemoryConfig{
			Enabled:       false,
			MaxSnippetLen: 2000,
		},
		Rewriter: RewriterConfig{
			Enabled: false,
			Timeout: time.Second,
		},
		Providers: map[string]Provider{},
	}
}
