// Package provider adapts upstream LLM APIs (Anthropic, OpenAI-compatible)
// to a single streaming contract the dispatch pipeline can coalesce and
// fan out without knowing which upstream produced the tokens.
package provider

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

// EventKind discriminates the union of events a Provider stream can emit.
type EventKind string

const (
	EventDelta EventKind = "delta"
	EventUsage EventKind = "usage"
	EventError EventKind = "error"
	EventEnd   EventKind = "end"
)

// ProviderEvent is one item of a provider's translated output stream.
// Exactly one of the kind-specific fields is meaningful for a given Kind.
type ProviderEvent struct {
	Kind EventKind

	// EventDelta
	Content string

	// EventUsage (always its own event: Anthropic's usage arrives in a
	// message_delta frame, and an EventEnd never carries usage)
	InputTokens  int
	OutputTokens int

	// EventError
	HTTPStatus int
	Body       string
	Err        error
}

// Options carries per-request generation parameters.
type Options struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
}

// Provider streams chat completions from one upstream API.
type Provider interface {
	Name() string
	SupportsStreaming() bool
	// Stream issues the upstream request and returns a channel of
	// ProviderEvent. The channel is closed after an EventEnd or
	// EventError is sent, or when ctx is cancelled. Implementations must
	// emit at least one event before the caller's overall request
	// timeout, per the idle-timeout guard built into decodeSSE.
	Stream(ctx context.Context, client *http.Client, messages []gatewaytypes.MessageEnvelope, model string, opts Options) (<-chan ProviderEvent, error)
}

// lineParser turns one SSE event (its optional "event:" type and its
// "data:" payload) into a ProviderEvent. Returning io.EOF signals the
// upstream stream is logically finished even if the transport connection
// has not yet closed.
type lineParser func(eventType string, data []byte) (ProviderEvent, error)

// idleTimeout bounds how long decodeSSE waits between upstream lines
// before treating the connection as stalled.
const idleTimeout = 30 * time.Second

// decodeSSE reads body as a stream of SSE frames, translating each one
// via parse, and publishes the results on the returned channel. It owns
// closing body and the returned channel.
func decodeSSE(ctx context.Context, body io.ReadCloser, parse lineParser) <-chan ProviderEvent {
	out := make(chan ProviderEvent, 8)

	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

		type scanResult struct {
			line string
			ok   bool
		}
		lines := make(chan scanResult, 1)
		go func() {
			for scanner.Scan() {
				lines <- scanResult{line: scanner.Text(), ok: true}
			}
			lines <- scanResult{ok: false}
		}()

		timer := time.NewTimer(idleTimeout)
		defer timer.Stop()

		var eventType string
		for {
			timer.Reset(idleTimeout)
			select {
			case <-ctx.Done():
				out <- ProviderEvent{Kind: EventError, Err: ctx.Err()}
				return

			case <-timer.C:
				out <- ProviderEvent{Kind: EventError, Err: context.DeadlineExceeded, Body: "idle timeout waiting for upstream"}
				return

			case res := <-lines:
				if !res.ok {
					if err := scanner.Err(); err != nil {
						out <- ProviderEvent{Kind: EventError, Err: err}
					} else {
						out <- ProviderEvent{Kind: EventEnd}
					}
					return
				}

				line := res.line
				if strings.HasPrefix(line, "event:") {
					eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					continue
				}
				if !strings.HasPrefix(line, "data:") {
					if line == "" {
						eventType = ""
					}
					continue
				}
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "" || data == "[DONE]" {
					if data == "[DONE]" {
						out <- ProviderEvent{Kind: EventEnd}
						return
					}
					continue
				}

				evt, err := parse(eventType, []byte(data))
				if err == io.EOF {
					out <- ProviderEvent{Kind: EventEnd}
					return
				}
				if err != nil {
					out <- ProviderEvent{Kind: EventError, Err: err}
					return
				}
				out <- evt
			}
		}
	}()

	return out
}

// Registry resolves a provider name to its Provider implementation.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry builds a Registry from a set of configured providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

// Get returns the named provider, or nil if unregistered.
func (r *Registry) Get(name string) Provider {
	return r.byName[name]
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
