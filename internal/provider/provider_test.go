package provider

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetAndNames(t *testing.T) {
	a := &anthropicProvider{}
	o := &openAIProvider{name: "openai"}
	reg := NewRegistry(a, o)

	assert.Same(t, a, reg.Get("anthropic"))
	assert.Same(t, o, reg.Get("openai"))
	assert.Nil(t, reg.Get("missing"))
	assert.ElementsMatch(t, []string{"anthropic", "openai"}, reg.Names())
}

func TestDecodeSSEEmitsDeltaThenEndOnDone(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"event: content_block_delta\ndata: {\"delta\":{\"text\":\"hi\"}}\n\n" +
			"data: [DONE]\n\n",
	))
	parse := func(eventType string, data []byte) (ProviderEvent, error) {
		if eventType == "content_block_delta" {
			return ProviderEvent{Kind: EventDelta, Content: "hi"}, nil
		}
		return ProviderEvent{}, nil
	}

	ch := decodeSSE(context.Background(), body, parse)
	var events []ProviderEvent
	for evt := range ch {
		events = append(events, evt)
	}

	require.Len(t, events, 2)
	assert.Equal(t, EventDelta, events[0].Kind)
	assert.Equal(t, "hi", events[0].Content)
	assert.Equal(t, EventEnd, events[1].Kind)
}

func TestDecodeSSEStopsOnParserEOF(t *testing.T) {
	body := io.NopCloser(strings.NewReader("event: message_stop\ndata: {}\n\n"))
	parse := func(eventType string, data []byte) (ProviderEvent, error) {
		if eventType == "message_stop" {
			return ProviderEvent{}, io.EOF
		}
		return ProviderEvent{}, nil
	}

	ch := decodeSSE(context.Background(), body, parse)
	evt := <-ch
	assert.Equal(t, EventEnd, evt.Kind)
	_, open := <-ch
	assert.False(t, open)
}

func TestDecodeSSECancelledContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	parse := func(eventType string, data []byte) (ProviderEvent, error) { return ProviderEvent{}, nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := decodeSSE(ctx, io.NopCloser(r), parse)
	evt := <-ch
	assert.Equal(t, EventError, evt.Kind)
	assert.ErrorIs(t, evt.Err, context.Canceled)
}

func TestAnthropicParseStreamEventMessageStopEndsStream(t *testing.T) {
	p := &anthropicProvider{}
	_, err := p.parseStreamEvent("message_stop", nil)
	assert.Equal(t, io.EOF, err)
}

func TestAnthropicParseStreamEventDelta(t *testing.T) {
	p := &anthropicProvider{}
	evt, err := p.parseStreamEvent("content_block_delta", []byte(`{"delta":{"text":"hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDelta, evt.Kind)
	assert.Equal(t, "hello", evt.Content)
}

func TestAnthropicParseStreamEventUsage(t *testing.T) {
	p := &anthropicProvider{}
	evt, err := p.parseStreamEvent("message_delta", []byte(`{"usage":{"input_tokens":5,"output_tokens":9}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUsage, evt.Kind)
	assert.Equal(t, 5, evt.InputTokens)
	assert.Equal(t, 9, evt.OutputTokens)
}

func TestAnthropicParseStreamEventPingIsNoOp(t *testing.T) {
	p := &anthropicProvider{}
	evt, err := p.parseStreamEvent("ping", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, EventDelta, evt.Kind)
	assert.Empty(t, evt.Content)
}

func TestOpenAIParseStreamEventDelta(t *testing.T) {
	p := &openAIProvider{name: "openai"}
	evt, err := p.parseStreamEvent("", []byte(`{"choices":[{"delta":{"content":"yo"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, EventDelta, evt.Kind)
	assert.Equal(t, "yo", evt.Content)
}

func TestOpenAIParseStreamEventUsage(t *testing.T) {
	p := &openAIProvider{name: "openai"}
	evt, err := p.parseStreamEvent("", []byte(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUsage, evt.Kind)
	assert.Equal(t, 3, evt.InputTokens)
	assert.Equal(t, 4, evt.OutputTokens)
}

func TestOpenAIParseStreamEventMalformedJSON(t *testing.T) {
	p := &openAIProvider{name: "openai"}
	_, err := p.parseStreamEvent("", []byte(`not json`))
	assert.Error(t, err)
}
