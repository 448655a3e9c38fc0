// Package dispatch implements the single request lifecycle both the
// streaming and non-streaming HTTP endpoints drive: validate, build
// context, route, coalesce, and fan the result out (to a hub for
// streaming callers, or directly for non-streaming ones).
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/wudi/llmgateway/internal/coalesce"
	"github.com/wudi/llmgateway/internal/contextbuilder"
	gwerrors "github.com/wudi/llmgateway/internal/errors"
	"github.com/wudi/llmgateway/internal/gatewaytypes"
	"github.com/wudi/llmgateway/internal/hub"
	"github.com/wudi/llmgateway/internal/metrics"
	"github.com/wudi/llmgateway/internal/pacer"
	"github.com/wudi/llmgateway/internal/provider"
	"github.com/wudi/llmgateway/internal/router"
	"github.com/wudi/llmgateway/internal/sse"
	"github.com/wudi/llmgateway/internal/thread"
)

// maxRetries bounds leader-body retries for rate_limited/upstream_transient
// errors; followers never retry, only the leader does.
const maxRetries = 2

// retryInitialInterval is the backoff starting point for leader retries.
const retryInitialInterval = 250 * time.Millisecond

// Defaults holds the fallback provider/model used when the router finds
// no viable candidate.
type Defaults struct {
	Provider string
	Model    string
}

// Pipeline wires every dispatch-core component into the single request
// lifecycle described by the dispatch algorithm.
type Pipeline struct {
	Threads   *thread.Store
	Builder   *contextbuilder.Builder
	Router    *router.Router
	History   *router.History
	Coalescer *coalesce.Coalescer
	Hubs      *hub.Registry
	Pacers    *pacer.Registry
	Providers *provider.Registry
	Metrics   *metrics.Collector
	Client    *http.Client
	Defaults  Defaults

	// StreamGroup is the streaming path's own leader/follower map, kept
	// separate from Coalescer so a streaming and a non-streaming dispatch
	// can never contend for the same singleflight slot. It must be set
	// (see NewStreamGroup); DispatchStream does not create one when nil.
	StreamGroup *StreamGroup

	// HubDrainGrace bounds how long the hub waits for subscriber queues
	// to drain after a leader finishes, before force-closing.
	HubDrainGrace time.Duration

	// StreamLeaderTTL bounds how long a streaming leader may run before
	// being treated as failed, mirroring Coalescer's ttl for the
	// non-streaming path. Defaults to defaultStreamLeaderTTL if unset.
	StreamLeaderTTL time.Duration

	// FirstTokenTimeout bounds how long any stream subscriber (leader or
	// follower) waits for the first meta/delta event before the SSE
	// handler gives up with a timeout error. Defaults to
	// defaultFirstTokenTimeout if unset.
	FirstTokenTimeout time.Duration
}

// defaultStreamLeaderTTL is the streaming leader's run budget when
// Pipeline.StreamLeaderTTL is unset, matching Coalescer's own default.
const defaultStreamLeaderTTL = 30 * time.Second

// defaultFirstTokenTimeout is the client_first_token_timeout_ms default.
const defaultFirstTokenTimeout = 10 * time.Second

func (p *Pipeline) streamLeaderTTL() time.Duration {
	if p.StreamLeaderTTL > 0 {
		return p.StreamLeaderTTL
	}
	return defaultStreamLeaderTTL
}

func (p *Pipeline) firstTokenTimeout() time.Duration {
	if p.FirstTokenTimeout > 0 {
		return p.FirstTokenTimeout
	}
	return defaultFirstTokenTimeout
}

// Request is one parsed, validated dispatch request.
type Request struct {
	ThreadID         string
	OrgID            string
	RequestID        string
	Content          string
	PinnedProvider   string
	PinnedModel      string
	Scope            string
	UseMemory        bool
	UseQueryRewriter bool
}

// Validate checks the request fields the dispatch algorithm's step 1
// requires before any work begins.
func (r Request) Validate() error {
	if r.ThreadID == "" {
		return gwerrors.New(gwerrors.KindValidation, "thread_id is required")
	}
	if r.OrgID == "" {
		return gwerrors.New(gwerrors.KindAuth, "x-org-id header is required")
	}
	if r.Content == "" {
		return gwerrors.New(gwerrors.KindValidation, "content must not be empty")
	}
	return nil
}

// Result is the non-streaming response envelope.
type Result struct {
	ThreadID         string                   `json:"thread_id"`
	AssistantContent string                   `json:"assistant_content"`
	ProviderMeta     gatewaytypes.ProviderMeta `json:"provider_meta"`
	Scores           []gatewaytypes.ScoreEntry `json:"scores"`
}

// Dispatch runs the non-streaming path: coalescer only, no hub.
func (p *Pipeline) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	built := p.Builder.Build(ctx, req.ThreadID, req.Content)
	decision := p.route(ctx, req)

	key := coalesce.BuildKey(decision.Provider, decision.Model, built.Messages, routingFlags(req))

	out, role, err := p.Coalescer.Run(ctx, key, p.leaderFn(req, decision, built, nil))
	status := http.StatusOK
	errKind := ""
	if err != nil {
		status = gwerrors.StatusOf(err)
		errKind = string(gwerrors.KindOf(err))
	}
	p.recordMetrics(out, status, errKind, string(role))
	if err != nil {
		return nil, err
	}

	return &Result{
		ThreadID:         req.ThreadID,
		AssistantContent: out.FinalContent,
		ProviderMeta:     out.ProviderMeta,
		Scores:           decision.Scores,
	}, nil
}

// DispatchStream runs the streaming path: hub subscription happens
// before leadership is determined, so a follower never misses a delta
// the leader publishes while the follower is still joining. Leadership
// is decided by StreamGroup, not Coalescer, so an identical non-streaming
// dispatch can never capture this hub's leader slot (see StreamGroup).
func (p *Pipeline) DispatchStream(ctx context.Context, req Request, enc *sse.Encoder) {
	if err := enc.Ping(); err != nil {
		return
	}

	if err := req.Validate(); err != nil {
		writeError(enc, err)
		return
	}

	built := p.Builder.Build(ctx, req.ThreadID, req.Content)
	decision := p.route(ctx, req)
	_ = enc.Router(decision)

	key := coalesce.BuildKey(decision.Provider, decision.Model, built.Messages, routingFlags(req))

	h := p.Hubs.GetOrCreate(key)
	sub := h.Subscribe()
	isLeader := p.StreamGroup.join(key)
	defer func() {
		p.StreamGroup.leave(key)
		h.Unsubscribe(sub)
		if h.SubscriberCount() == 0 {
			p.Hubs.Release(key)
		}
	}()

	start := time.Now()
	if isLeader {
		go func() {
			leaderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.streamLeaderTTL())
			defer cancel()
			out, err := p.leaderFn(req, decision, built, h)(leaderCtx)
			status := http.StatusOK
			errKind := ""
			if err != nil {
				status = gwerrors.StatusOf(err)
				errKind = string(gwerrors.KindOf(err))
			}
			p.recordMetrics(out, status, errKind, string(coalesce.RoleLeader))
			h.Close(nil, p.HubDrainGrace)
			p.Hubs.Release(key)
		}()
	}

	role := coalesce.RoleFollower
	if isLeader {
		role = coalesce.RoleLeader
	}
	p.drain(ctx, sub, enc, start, role)
}

// route resolves a RouteDecision, honoring a caller-pinned provider/model
// and falling back to the configured default when the router finds no
// viable candidate.
func (p *Pipeline) route(ctx context.Context, req Request) gatewaytypes.RouteDecision {
	priority := "default"
	if req.Scope == "shared" {
		priority = "cost"
	}
	decision := p.Router.Route(ctx, req.OrgID, priority, req.Content, req.PinnedProvider, req.PinnedModel)
	if decision.Provider == "" {
		decision.Provider = p.Defaults.Provider
		decision.Model = p.Defaults.Model
		decision.Reason = "default fallback: no viable candidate"
	}
	return decision
}

func routingFlags(req Request) map[string]string {
	return map[string]string{
		"scope":              req.Scope,
		"use_memory":         strconv.FormatBool(req.UseMemory),
		"use_query_rewriter": strconv.FormatBool(req.UseQueryRewriter),
	}
}

// drain forwards hub events to the SSE client until done or error is
// observed, or the client disconnects. It also enforces
// client_first_token_timeout_ms: if no meta or delta event arrives
// before the timeout, the subscriber gives up rather than waiting on a
// leader that may be stuck.
func (p *Pipeline) drain(ctx context.Context, sub *hub.Subscription, enc *sse.Encoder, start time.Time, role coalesce.Role) {
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	firstToken := time.NewTimer(p.firstTokenTimeout())
	defer firstToken.Stop()
	sawFirstToken := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-firstToken.C:
			if !sawFirstToken {
				_ = enc.Error(string(gwerrors.KindTimeout), "timed out waiting for the first token", false)
				if role == coalesce.RoleFollower {
					p.recordFollowerTerminal(start, http.StatusGatewayTimeout, string(gwerrors.KindTimeout), gatewaytypes.ProviderMeta{})
				}
				return
			}

		case <-heartbeat.C:
			if count, ok := sub.PendingDropNotice(); ok {
				_ = enc.Dropped(count)
			}
			_ = enc.Ping()

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			heartbeat.Reset(sse.HeartbeatInterval)
			if !sawFirstToken && (evt.Type == "meta" || evt.Type == "delta") {
				sawFirstToken = true
				firstToken.Stop()
			}
			if count, ok := sub.PendingDropNotice(); ok {
				_ = enc.Dropped(count)
			}
			terminal := p.forward(enc, evt)
			if terminal {
				if role == coalesce.RoleFollower {
					p.recordFollowerFromEvent(evt)
				}
				return
			}
		}
	}
}

// recordFollowerFromEvent records a follower's metrics from the terminal
// hub event it observed. Followers never call the provider directly, so
// their metrics come entirely from what the leader published.
func (p *Pipeline) recordFollowerFromEvent(evt hub.Event) {
	switch evt.Type {
	case "done":
		meta, totalMs, _ := decodeDone(evt.Payload)
		p.recordMetrics(gatewaytypes.LeaderOutput{ProviderMeta: meta, TotalMs: totalMs}, http.StatusOK, "", string(coalesce.RoleFollower))
	case "error":
		kind, _, _ := decodeError(evt.Payload)
		p.recordFollowerTerminal(time.Time{}, gwerrors.New(gwerrors.Kind(kind), "").Code, kind, gatewaytypes.ProviderMeta{})
	}
}

func (p *Pipeline) recordFollowerTerminal(start time.Time, status int, errKind string, meta gatewaytypes.ProviderMeta) {
	totalMs := int64(0)
	if !start.IsZero() {
		totalMs = time.Since(start).Milliseconds()
	}
	p.recordMetrics(gatewaytypes.LeaderOutput{ProviderMeta: meta, TotalMs: totalMs}, status, errKind, string(coalesce.RoleFollower))
}

// forward decodes one hub.Event onto the wire and reports whether the
// stream has reached a terminal frame.
func (p *Pipeline) forward(enc *sse.Encoder, evt hub.Event) bool {
	switch evt.Type {
	case "meta":
		_ = enc.Meta(decodeMeta(evt.Payload))
	case "delta":
		_ = enc.Delta(string(evt.Payload))
	case "done":
		meta, totalMs, hash := decodeDone(evt.Payload)
		_ = enc.Done(totalMs, hash, meta)
		return true
	case "error":
		kind, message, retryable := decodeError(evt.Payload)
		_ = enc.Error(kind, message, retryable)
		return true
	}
	return false
}

func writeError(enc *sse.Encoder, err error) {
	kind := gwerrors.KindOf(err)
	_ = enc.Error(string(kind), err.Error(), kind.Retryable())
}

func (p *Pipeline) recordMetrics(out gatewaytypes.LeaderOutput, status int, errKind, role string) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.Record(metrics.Record{
		TTFTMs:       float64(out.ProviderMeta.TTFTMs),
		TotalMs:      float64(out.TotalMs),
		QueueWaitMs:  float64(out.ProviderMeta.QueueWaitMs),
		Provider:     out.ProviderMeta.Provider,
		Model:        out.ProviderMeta.Model,
		Status:       status,
		ErrorKind:    errKind,
		CoalesceRole: role,
		Retries:      out.ProviderMeta.Retries,
	})
}

// backoffForAttempt builds the exponential backoff sequence leader
// retries follow, starting at retryInitialInterval.
func backoffForAttempt() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

func newTurnID() string { return uuid.NewString() }

func fmtRetryAfter(attempt int) string {
	return fmt.Sprintf("retry %d of %d", attempt, maxRetries)
}
