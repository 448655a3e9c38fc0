// Package sse encodes the gateway's server-sent-events wire protocol:
// a fixed event sequence (ping, router, meta, delta*, dropped?, done) or
// an error event in place of done, with a periodic heartbeat when no
// delta has been sent recently.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

// HeartbeatInterval is how often a ping event is sent while waiting on
// upstream content, so intermediaries don't time out an idle connection.
const HeartbeatInterval = 15 * time.Second

// Encoder writes framed SSE events to an HTTP response.
type Encoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEncoder prepares w for SSE: sets the required headers and writes
// the 200 status, but sends no events yet. Returns an error if w does
// not support flushing, since the protocol requires per-event flushes.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "keep-alive")
	h.Del("Content-Length")

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Encoder{w: w, flusher: flusher}, nil
}

func (e *Encoder) writeEvent(eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", eventType, body); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Ping sends an empty heartbeat event.
func (e *Encoder) Ping() error {
	return e.writeEvent("ping", struct{}{})
}

// Router announces the route decision for this dispatch.
func (e *Encoder) Router(decision gatewaytypes.RouteDecision) error {
	return e.writeEvent("router", decision)
}

// metaPayload is the wire shape of the meta event.
type metaPayload struct {
	TTFTMs      int64  `json:"ttft_ms"`
	QueueWaitMs int64  `json:"queue_wait_ms"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
}

// Meta sends provider/turn metadata once the leader's upstream call has
// started.
func (e *Encoder) Meta(meta gatewaytypes.ProviderMeta) error {
	return e.writeEvent("meta", metaPayload{
		TTFTMs:      meta.TTFTMs,
		QueueWaitMs: meta.QueueWaitMs,
		Provider:    meta.Provider,
		Model:       meta.Model,
	})
}

// deltaPayload is the wire shape of a delta event.
type deltaPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Delta sends one incremental content chunk.
func (e *Encoder) Delta(content string) error {
	return e.writeEvent("delta", deltaPayload{Type: "delta", Content: content})
}

// droppedPayload is the wire shape of a dropped event.
type droppedPayload struct {
	Count int64 `json:"count"`
}

// Dropped reports that count buffered events were evicted for this
// subscriber due to slow consumption, consolidating one notice per
// overflow episode rather than one per dropped event.
func (e *Encoder) Dropped(count int64) error {
	return e.writeEvent("dropped", droppedPayload{Count: count})
}

// doneUsage is the usage sub-object of the done event.
type doneUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// donePayload is the wire shape of the terminal done event.
type donePayload struct {
	TotalMs   int64     `json:"total_ms"`
	FinalHash string    `json:"final_hash"`
	Usage     doneUsage `json:"usage"`
}

// Done sends the terminal success event. No further events follow.
func (e *Encoder) Done(totalMs int64, finalHash string, meta gatewaytypes.ProviderMeta) error {
	return e.writeEvent("done", donePayload{
		TotalMs:   totalMs,
		FinalHash: finalHash,
		Usage:     doneUsage{InputTokens: meta.UsageInputTokens, OutputTokens: meta.UsageOutputTokens},
	})
}

// errorPayload is the wire shape of the terminal error event.
type errorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Error sends the terminal error event in place of done. No further
// events follow.
func (e *Encoder) Error(kind, message string, retryable bool) error {
	return e.writeEvent("error", errorPayload{Kind: kind, Message: message, Retryable: retryable})
}
