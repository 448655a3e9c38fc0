package coalesce

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

func TestBuildKeyIsDeterministic(t *testing.T) {
	msgs := []gatewaytypes.MessageEnvelope{{Role: "user", Content: "hi"}}
	flags := map[string]string{"scope": "shared", "use_memory": "false"}

	a := BuildKey("anthropic", "claude", msgs, flags)
	b := BuildKey("anthropic", "claude", msgs, flags)
	assert.Equal(t, a, b)
}

func TestBuildKeyFlagOrderDoesNotMatter(t *testing.T) {
	msgs := []gatewaytypes.MessageEnvelope{{Role: "user", Content: "hi"}}

	a := BuildKey("p", "m", msgs, map[string]string{"x": "1", "y": "2"})
	b := BuildKey("p", "m", msgs, map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
}

func TestBuildKeyChangesWithAnyInput(t *testing.T) {
	msgs := []gatewaytypes.MessageEnvelope{{Role: "user", Content: "hi"}}
	base := BuildKey("p", "m", msgs, nil)

	assert.NotEqual(t, base, BuildKey("other", "m", msgs, nil))
	assert.NotEqual(t, base, BuildKey("p", "other-model", msgs, nil))
	assert.NotEqual(t, base, BuildKey("p", "m", []gatewaytypes.MessageEnvelope{{Role: "user", Content: "different"}}, nil))
	assert.NotEqual(t, base, BuildKey("p", "m", msgs, map[string]string{"scope": "shared"}))
}
