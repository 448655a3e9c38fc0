package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wudi/llmgateway/internal/contextbuilder"
	gwerrors "github.com/wudi/llmgateway/internal/errors"
	"github.com/wudi/llmgateway/internal/gatewaytypes"
	"github.com/wudi/llmgateway/internal/hub"
	"github.com/wudi/llmgateway/internal/logging"
	"github.com/wudi/llmgateway/internal/pacer"
	"github.com/wudi/llmgateway/internal/provider"
	"github.com/wudi/llmgateway/internal/thread"
)

// leaderEventDone is the hub payload shape for a "done" event.
type leaderEventDone struct {
	Meta      gatewaytypes.ProviderMeta `json:"meta"`
	TotalMs   int64                     `json:"total_ms"`
	FinalHash string                    `json:"final_hash"`
}

// leaderEventError is the hub payload shape for an "error" event.
type leaderEventError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func decodeMeta(payload []byte) gatewaytypes.ProviderMeta {
	var m gatewaytypes.ProviderMeta
	_ = json.Unmarshal(payload, &m)
	return m
}

func decodeDone(payload []byte) (gatewaytypes.ProviderMeta, int64, string) {
	var d leaderEventDone
	_ = json.Unmarshal(payload, &d)
	return d.Meta, d.TotalMs, d.FinalHash
}

func decodeError(payload []byte) (kind, message string, retryable bool) {
	var e leaderEventError
	_ = json.Unmarshal(payload, &e)
	return e.Kind, e.Message, e.Retryable
}

func publishJSON(h *hub.Hub, eventType string, v any) {
	if h == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.Publish(hub.Event{Type: eventType, Payload: body})
}

// leaderFn builds the closure run exactly once per key: by the Coalescer
// on the non-streaming path, and by the StreamGroup leader's goroutine in
// DispatchStream on the streaming path. h is nil on the non-streaming path, where there is no hub to publish
// to; the leader still produces the same LeaderOutput either way.
func (p *Pipeline) leaderFn(req Request, decision gatewaytypes.RouteDecision, built contextbuilder.Result, h *hub.Hub) func(ctx context.Context) (gatewaytypes.LeaderOutput, error) {
	return func(ctx context.Context) (gatewaytypes.LeaderOutput, error) {
		leaderStart := time.Now()

		userTurnID := newTurnID()
		p.Threads.AppendTurn(req.ThreadID, thread.Turn{Role: thread.RoleUser, Content: req.Content, CreatedAt: leaderStart})

		prov := p.Providers.Get(decision.Provider)
		if prov == nil {
			err := gwerrors.New(gwerrors.KindInternal, "unconfigured provider: "+decision.Provider)
			publishJSON(h, "error", leaderEventError{Kind: string(gwerrors.KindInternal), Message: err.Error(), Retryable: false})
			return gatewaytypes.LeaderOutput{}, err
		}
		pc := p.Pacers.Get(decision.Provider)

		bo := backoffForAttempt()
		var lastErr error

		for attempt := 0; attempt <= maxRetries; attempt++ {
			out, err := p.attempt(ctx, req, decision, built, prov, pc, h, userTurnID, leaderStart, attempt)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if !gwerrors.KindOf(err).Retryable() || attempt == maxRetries {
				break
			}
			wait := bo.NextBackOff()
			logging.Warn("leader retrying after upstream error: " + fmtRetryAfter(attempt+1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return gatewaytypes.LeaderOutput{}, ctx.Err()
			}
		}

		kind := gwerrors.KindOf(lastErr)
		publishJSON(h, "error", leaderEventError{Kind: string(kind), Message: lastErr.Error(), Retryable: kind.Retryable()})
		if p.History != nil {
			p.History.RecordOutcome(decision.Provider, decision.Model, false, 0)
		}
		return gatewaytypes.LeaderOutput{}, lastErr
	}
}

// attempt issues exactly one upstream call, routed through the
// provider's pacer so admission control and the circuit breaker gate
// every try, not just the first.
func (p *Pipeline) attempt(
	ctx context.Context,
	req Request,
	decision gatewaytypes.RouteDecision,
	built contextbuilder.Result,
	prov provider.Provider,
	pc *pacer.Pacer,
	h *hub.Hub,
	userTurnID string,
	leaderStart time.Time,
	attemptNum int,
) (gatewaytypes.LeaderOutput, error) {
	run := func() (gatewaytypes.LeaderOutput, error) {
		var (
			permit    *pacer.Permit
			queueWait time.Duration
			err       error
		)
		if pc != nil {
			permit, queueWait, err = pc.Acquire(ctx, time.Time{})
			if err != nil {
				return gatewaytypes.LeaderOutput{}, err
			}
			defer pc.Release(permit)
		}
		return p.streamOnce(ctx, req, decision, built, prov, h, userTurnID, leaderStart, attemptNum, queueWait)
	}

	if pc == nil {
		return run()
	}
	return pc.Execute(run)
}

// streamOnce issues the upstream call and accumulates its stream into a
// LeaderOutput, publishing meta/delta/done events to h as they occur.
func (p *Pipeline) streamOnce(
	ctx context.Context,
	req Request,
	decision gatewaytypes.RouteDecision,
	built contextbuilder.Result,
	prov provider.Provider,
	h *hub.Hub,
	userTurnID string,
	leaderStart time.Time,
	attemptNum int,
	queueWait time.Duration,
) (gatewaytypes.LeaderOutput, error) {
	events, err := prov.Stream(ctx, p.Client, built.Messages, decision.Model, provider.Options{MaxTokens: 4096})
	if err != nil {
		return gatewaytypes.LeaderOutput{}, gwerrors.Wrap(err, gwerrors.KindUpstreamTransient, "upstream request failed")
	}

	var (
		content       []byte
		meta          gatewaytypes.ProviderMeta
		firstByte     time.Time
		publishedMeta bool
	)
	meta.Provider = decision.Provider
	meta.Model = decision.Model
	meta.QueueWaitMs = queueWait.Milliseconds()
	meta.Retries = attemptNum

	for evt := range events {
		switch evt.Kind {
		case provider.EventDelta:
			if firstByte.IsZero() {
				firstByte = time.Now()
				meta.TTFTMs = firstByte.Sub(leaderStart).Milliseconds()
			}
			if !publishedMeta {
				publishedMeta = true
				publishJSON(h, "meta", meta)
			}
			if evt.Content != "" {
				content = append(content, evt.Content...)
				if h != nil {
					h.Publish(hub.Event{Type: "delta", Payload: []byte(evt.Content)})
				}
			}

		case provider.EventUsage:
			meta.UsageInputTokens = evt.InputTokens
			meta.UsageOutputTokens = evt.OutputTokens

		case provider.EventError:
			kind := gwerrors.ClassifyHTTPStatus(evt.HTTPStatus)
			if evt.Err != nil && evt.HTTPStatus == 0 {
				kind = gwerrors.KindUpstreamTransient
			}
			return gatewaytypes.LeaderOutput{}, gwerrors.New(kind, "upstream error: "+evt.Body)

		case provider.EventEnd:
			// Loop ends naturally when events closes; nothing to do.
		}
	}

	totalMs := time.Since(leaderStart).Milliseconds()
	finalHash := strconv.FormatUint(xxhash.Sum64(content), 16)

	assistantTurnID := newTurnID()
	p.Threads.AppendTurn(req.ThreadID, thread.Turn{Role: thread.RoleAssistant, Content: string(content), CreatedAt: time.Now()})

	out := gatewaytypes.LeaderOutput{
		FinalContent:   string(content),
		ProviderMeta:   meta,
		TurnIDsWritten: []string{userTurnID, assistantTurnID},
		TotalMs:        totalMs,
		FinalHash:      finalHash,
	}

	if p.History != nil {
		p.History.RecordOutcome(decision.Provider, decision.Model, true, time.Duration(totalMs)*time.Millisecond)
	}

	publishJSON(h, "done", leaderEventDone{Meta: meta, TotalMs: totalMs, FinalHash: finalHash})
	return out, nil
}
