package rewriter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/llmgateway/internal/thread"
)

func TestRewriteNoOpWhenNoPronounPresent(t *testing.T) {
	r := New()
	out, err := r.Rewrite(context.Background(), nil, "tell me about channels")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRewriteNoOpWhenNoPriorAssistantTurn(t *testing.T) {
	r := New()
	history := []thread.Turn{{Role: thread.RoleUser, Content: "hi", CreatedAt: time.Now()}}
	out, err := r.Rewrite(context.Background(), history, "what about it?")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRewriteAnnotatesPronounWithLastAssistantSubject(t *testing.T) {
	r := New()
	history := []thread.Turn{
		{Role: thread.RoleUser, Content: "what is a goroutine", CreatedAt: time.Now()},
		{Role: thread.RoleAssistant, Content: "A goroutine is a lightweight thread. It is cheap to create.", CreatedAt: time.Now()},
	}

	out, err := r.Rewrite(context.Background(), history, "how fast is it?")
	require.NoError(t, err)
	assert.Contains(t, out, "how fast is it?")
	assert.Contains(t, out, "referring to")
	assert.Contains(t, out, "A goroutine is a lightweight thread")
}

func TestRewriteUsesMostRecentAssistantTurnAmongMany(t *testing.T) {
	r := New()
	history := []thread.Turn{
		{Role: thread.RoleAssistant, Content: "Older subject here.", CreatedAt: time.Now()},
		{Role: thread.RoleUser, Content: "follow up", CreatedAt: time.Now()},
		{Role: thread.RoleAssistant, Content: "Newer subject here.", CreatedAt: time.Now()},
	}

	out, err := r.Rewrite(context.Background(), history, "tell me more about them")
	require.NoError(t, err)
	assert.Contains(t, out, "Newer subject here")
	assert.NotContains(t, out, "Older subject here")
}
