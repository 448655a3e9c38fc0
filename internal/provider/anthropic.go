package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
	"github.com/wudi/llmgateway/internal/httpclient"
)

// anthropicProvider adapts the Anthropic Messages API to the unified
// Provider contract.
type anthropicProvider struct {
	apiKey  string
	baseURL string
}

// NewAnthropic builds a Provider for Anthropic's Messages API.
func NewAnthropic(apiKey, baseURL string) Provider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &anthropicProvider{apiKey: apiKey, baseURL: baseURL}
}

func (p *anthropicProvider) Name() string           { return "anthropic" }
func (p *anthropicProvider) SupportsStreaming() bool { return true }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream"`
}

func (p *anthropicProvider) Stream(ctx context.Context, client *http.Client, messages []gatewaytypes.MessageEnvelope, model string, opts Options) (<-chan ProviderEvent, error) {
	reqBody := anthropicRequest{
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		StopSeqs:    opts.Stop,
		Stream:      true,
	}
	if reqBody.MaxTokens <= 0 {
		reqBody.MaxTokens = 4096
	}

	var system string
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		reqBody.Messages = append(reqBody.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	reqBody.System = system

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpclient.PrepareStreamRequest(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		ch := make(chan ProviderEvent, 1)
		ch <- ProviderEvent{Kind: EventError, HTTPStatus: resp.StatusCode, Body: string(body)}
		close(ch)
		return ch, nil
	}

	return decodeSSE(ctx, resp.Body, p.parseStreamEvent), nil
}

type anthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type  string          `json:"type"`
	Delta *anthropicDelta  `json:"delta,omitempty"`
	Usage *anthropicUsage  `json:"usage,omitempty"`
}

func (p *anthropicProvider) parseStreamEvent(eventType string, data []byte) (ProviderEvent, error) {
	switch eventType {
	case "message_stop":
		return ProviderEvent{}, io.EOF

	case "content_block_delta":
		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return ProviderEvent{}, fmt.Errorf("anthropic: decode content_block_delta: %w", err)
		}
		if evt.Delta == nil {
			return ProviderEvent{Kind: EventDelta}, nil
		}
		return ProviderEvent{Kind: EventDelta, Content: evt.Delta.Text}, nil

	case "message_delta":
		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return ProviderEvent{}, fmt.Errorf("anthropic: decode message_delta: %w", err)
		}
		if evt.Usage == nil {
			return ProviderEvent{Kind: EventDelta, Content: ""}, nil
		}
		return ProviderEvent{
			Kind:         EventUsage,
			InputTokens:  evt.Usage.InputTokens,
			OutputTokens: evt.Usage.OutputTokens,
		}, nil

	case "ping", "message_start", "content_block_start", "content_block_stop":
		// Metadata-only events carry nothing the unified stream needs.
		return ProviderEvent{Kind: EventDelta, Content: ""}, nil

	default:
		return ProviderEvent{Kind: EventDelta, Content: ""}, nil
	}
}
