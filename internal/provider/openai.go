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

// openAIProvider adapts the OpenAI chat completions API, and any
// wire-compatible provider (Azure OpenAI, local OpenAI-shaped gateways),
// to the unified Provider contract.
type openAIProvider struct {
	name    string
	apiKey  string
	baseURL string
}

// NewOpenAICompatible builds a Provider for an OpenAI-wire-compatible
// chat completions endpoint. name distinguishes it in logs and metrics
// from other OpenAI-shaped providers behind different base URLs.
func NewOpenAICompatible(name, apiKey, baseURL string) Provider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &openAIProvider{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (p *openAIProvider) Name() string           { return p.name }
func (p *openAIProvider) SupportsStreaming() bool { return true }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

func (p *openAIProvider) Stream(ctx context.Context, client *http.Client, messages []gatewaytypes.MessageEnvelope, model string, opts Options) (<-chan ProviderEvent, error) {
	reqBody := openAIRequest{
		Model:       model,
		Stream:      true,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
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

type openAIStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIStreamEvent struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIStreamUsage   `json:"usage"`
}

func (p *openAIProvider) parseStreamEvent(eventType string, data []byte) (ProviderEvent, error) {
	var evt openAIStreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ProviderEvent{}, fmt.Errorf("openai: decode stream chunk: %w", err)
	}

	if evt.Usage != nil {
		return ProviderEvent{
			Kind:         EventUsage,
			InputTokens:  evt.Usage.PromptTokens,
			OutputTokens: evt.Usage.CompletionTokens,
		}, nil
	}
	if len(evt.Choices) == 0 {
		return ProviderEvent{Kind: EventDelta, Content: ""}, nil
	}
	choice := evt.Choices[0]
	if choice.FinishReason != nil {
		return ProviderEvent{Kind: EventDelta, Content: choice.Delta.Content}, nil
	}
	return ProviderEvent{Kind: EventDelta, Content: choice.Delta.Content}, nil
}
