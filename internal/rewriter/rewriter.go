// Package rewriter implements the non-destructive query rewrite step: a
// fallback-on-failure transformer that expands pronouns using prior turns
// so follow-up questions route and coalesce correctly.
package rewriter

import (
	"context"
	"regexp"
	"strings"

	"github.com/wudi/llmgateway/internal/thread"
)

// Rewriter produces an expanded formulation of userMessage given the
// preceding history, or an error/empty string if no rewrite applies.
type Rewriter interface {
	Rewrite(ctx context.Context, history []thread.Turn, userMessage string) (string, error)
}

// pronounRewriter annotates a message containing one of a small set of
// third-person pronouns with the first sentence of the most recent
// assistant turn, heuristically.
// This mirrors the source repository's lightest-weight implementation: no
// LLM call, just a last-turn lookback.
type pronounRewriter struct{}

// New returns the default heuristic Rewriter.
func New() Rewriter {
	return pronounRewriter{}
}

var pronounPattern = regexp.MustCompile(`(?i)\b(he|she|him|her|his|they|them|their|it)\b`)

// Rewrite returns userMessage with pronouns annotated by the nearest
// preceding assistant turn's subject, when one can be found. It never
// returns an error; callers are expected to treat an empty string as
// "no rewrite" and fall back to the original content.
func (pronounRewriter) Rewrite(ctx context.Context, history []thread.Turn, userMessage string) (string, error) {
	if !pronounPattern.MatchString(userMessage) {
		return "", nil
	}

	var lastAssistant string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == thread.RoleAssistant {
			lastAssistant = history[i].Content
			break
		}
	}
	if lastAssistant == "" {
		return "", nil
	}

	subject := firstSentence(lastAssistant)
	if subject == "" {
		return "", nil
	}
	return userMessage + " (referring to: " + subject + ")", nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?\n"); idx > 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}
