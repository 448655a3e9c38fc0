// Package gatewaytypes holds the data-model types shared across the
// dispatch core (coalescer, hub, router, provider adapters) so that none
// of those packages needs to import another's implementation details.
package gatewaytypes

// ProviderMeta carries the per-dispatch timing and usage facts a leader
// reports back to its followers and to the client's meta/done events.
type ProviderMeta struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	TTFTMs      int64  `json:"ttft_ms"`
	QueueWaitMs int64  `json:"queue_wait_ms"`
	Retries     int    `json:"retries"`
	UsageInputTokens  int `json:"usage_input_tokens,omitempty"`
	UsageOutputTokens int `json:"usage_output_tokens,omitempty"`
}

// LeaderOutput is what a coalescer leader produces and what every
// follower, streaming or not, ultimately observes.
type LeaderOutput struct {
	FinalContent    string
	ProviderMeta    ProviderMeta
	TurnIDsWritten  []string
	TotalMs         int64
	FinalHash       string
}

// ScoreEntry is one candidate's scoring breakdown, surfaced to the client
// in the router meta event for observability.
type ScoreEntry struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Total      float64 `json:"total"`
	Capability float64 `json:"capability"`
	Latency    float64 `json:"latency"`
	Cost       float64 `json:"cost"`
	Historical float64 `json:"historical"`
}

// RouteDecision is the Dynamic Router's output for one dispatch.
type RouteDecision struct {
	Provider string       `json:"provider"`
	Model    string       `json:"model"`
	Reason   string       `json:"reason"`
	Scores   []ScoreEntry `json:"scores"`
}

// MessageEnvelope is the provider-bound message shape the context
// builder assembles; it is decoupled from thread.Turn so system/memory
// messages can be injected without polluting the thread history.
type MessageEnvelope struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
