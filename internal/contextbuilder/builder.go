// Package contextbuilder deterministically assembles the provider-bound
// messages array from thread history, an optional memory snippet, and an
// optional rewritten query.
package contextbuilder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
	"github.com/wudi/llmgateway/internal/logging"
	"github.com/wudi/llmgateway/internal/memory"
	"github.com/wudi/llmgateway/internal/rewriter"
	"github.com/wudi/llmgateway/internal/thread"
)

const defaultSystemPrompt = "You are a helpful assistant."

// Builder assembles the messages array dispatched to a provider. It is
// read-only with respect to the thread store: history loading never
// mutates, and the current user message is appended to the thread only
// later, by the coalescer's leader body.
type Builder struct {
	store    *thread.Store
	memory   memory.Provider
	rewriter rewriter.Rewriter

	systemPrompt      string
	maxHistoryTurns   int
	maxSnippetLen     int
	memoryEnabled     bool
	rewriterEnabled   bool
	rewriterTimeout   time.Duration
}

// Options configures a Builder.
type Options struct {
	SystemPrompt    string
	MaxHistoryTurns int
	MaxSnippetLen   int
	MemoryEnabled   bool
	RewriterEnabled bool
	RewriterTimeout time.Duration
}

// New creates a context Builder.
func New(store *thread.Store, mem memory.Provider, rw rewriter.Rewriter, opts Options) *Builder {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.MaxHistoryTurns <= 0 {
		opts.MaxHistoryTurns = 20
	}
	if opts.MaxSnippetLen <= 0 {
		opts.MaxSnippetLen = 2000
	}
	if opts.RewriterTimeout <= 0 {
		opts.RewriterTimeout = time.Second
	}
	if mem == nil {
		mem = memory.None
	}
	return &Builder{
		store:           store,
		memory:          mem,
		rewriter:        rw,
		systemPrompt:    opts.SystemPrompt,
		maxHistoryTurns: opts.MaxHistoryTurns,
		maxSnippetLen:   opts.MaxSnippetLen,
		memoryEnabled:   opts.MemoryEnabled,
		rewriterEnabled: opts.RewriterEnabled,
		rewriterTimeout: opts.RewriterTimeout,
	}
}

// Result is the builder's output: the messages array, used for downstream
// coalesce-key computation, and whether a rewrite was applied to it.
type Result struct {
	Messages      []gatewaytypes.MessageEnvelope
	RewrittenUsed bool
}

// Build assembles the messages array for threadID and userMessage. History
// is loaded before any mutation of the thread, per the handler's contract.
func (b *Builder) Build(ctx context.Context, threadID, userMessage string) Result {
	var messages []gatewaytypes.MessageEnvelope
	messages = append(messages, gatewaytypes.MessageEnvelope{Role: "system", Content: b.systemPrompt})

	if b.memoryEnabled {
		snippet, err := b.memory.Snippet(ctx, threadID, userMessage)
		if err != nil {
			logging.Warn("memory provider failed, proceeding without snippet", zap.Error(err))
		} else if snippet != "" {
			if len(snippet) > b.maxSnippetLen {
				snippet = snippet[:b.maxSnippetLen]
			}
			messages = append(messages, gatewaytypes.MessageEnvelope{Role: "system", Content: snippet})
		}
	}

	// History MUST be loaded before the current user message is appended
	// to the array (and long before it is written to the thread store).
	history := b.store.GetHistory(threadID, b.maxHistoryTurns)
	for _, turn := range history {
		messages = append(messages, gatewaytypes.MessageEnvelope{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	finalContent := userMessage
	rewrittenUsed := false
	if b.rewriterEnabled && b.rewriter != nil {
		rewriteCtx, cancel := context.WithTimeout(ctx, b.rewriterTimeout)
		rewritten, err := b.rewriter.Rewrite(rewriteCtx, history, userMessage)
		cancel()
		if err != nil {
			logging.Warn("query rewriter failed, using original content", zap.Error(err))
		} else if rewritten != "" {
			finalContent = userMessage + "\n---\n" + rewritten
			rewrittenUsed = true
		}
	}

	messages = append(messages, gatewaytypes.MessageEnvelope{Role: "user", Content: finalContent})

	return Result{Messages: messages, RewrittenUsed: rewrittenUsed}
}
