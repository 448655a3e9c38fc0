package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader reads and validates gateway configuration files.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, starting from DefaultConfig
// and overlaying whatever the document sets.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if cfg.Thread.MaxTurnPairs <= 0 {
		return fmt.Errorf("thread.max_turn_pairs must be > 0")
	}
	if cfg.Thread.WindowTurns <= 0 {
		return fmt.Errorf("thread.window_turns must be > 0")
	}
	if cfg.Hub.SubscriberQueueSize <= 0 {
		return fmt.Errorf("hub.subscriber_queue_size must be > 0")
	}
	if cfg.Router.Epsilon < 0 || cfg.Router.Epsilon > 1 {
		return fmt.Errorf("router.epsilon must be between 0 and 1")
	}
	for name, p := range cfg.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s: at least one model is required", name)
		}
		if p.RatePerSecond <= 0 {
			return fmt.Errorf("provider %s: rate_per_second must be > 0", name)
		}
		if p.MaxConcurrent <= 0 {
			return fmt.Errorf("provider %s: max_concurrent must be > 0", name)
		}
	}
	for name := range cfg.Router.WeightsByPriority {
		w := cfg.Router.WeightsByPriority[name]
		sum := w.Capability + w.Latency + w.Cost + w.History
		if sum <= 0 {
			return fmt.Errorf("router.weights_by_priority[%s] must sum to a positive value", name)
		}
	}
	return nil
}

// Merge combines two configurations, with overlay's non-zero fields
// taking precedence over base.
func Merge(base, overlay *Config) *Config {
	merged := MergeNonZero(*base, *overlay)
	return &merged
}
