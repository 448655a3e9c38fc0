package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMClassifierParsesValidJSON(t *testing.T) {
	c := NewLLMClassifier(func(ctx context.Context, userMessage string) (string, error) {
		return `{"capability":0.8,"estimated_tokens":1200}`, nil
	})

	intent, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 0.8, intent.RequiredCapability)
	assert.Equal(t, 1200, intent.EstimatedTokens)
}

func TestLLMClassifierFallsBackOnMalformedJSON(t *testing.T) {
	c := NewLLMClassifier(func(ctx context.Context, userMessage string) (string, error) {
		return `not json`, nil
	})

	intent, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err, "malformed classifier output must not raise")
	assert.Equal(t, DefaultIntent, intent)
}

func TestLLMClassifierFallsBackOnCallError(t *testing.T) {
	c := NewLLMClassifier(func(ctx context.Context, userMessage string) (string, error) {
		return "", errors.New("model unavailable")
	})

	intent, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, DefaultIntent, intent)
}

func TestLLMClassifierIgnoresOutOfBoundsCapability(t *testing.T) {
	c := NewLLMClassifier(func(ctx context.Context, userMessage string) (string, error) {
		return `{"capability":5,"estimated_tokens":-10}`, nil
	})

	intent, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, DefaultIntent.RequiredCapability, intent.RequiredCapability)
	assert.Equal(t, DefaultIntent.EstimatedTokens, intent.EstimatedTokens)
}

func TestParseOrgPreferenceRule(t *testing.T) {
	rule, ok := ParseOrgPreferenceRule(`Priority == "speed" => openai/gpt-4o-mini`)
	require.True(t, ok)
	assert.Equal(t, `Priority == "speed"`, rule.Expression)
	assert.Equal(t, "openai", rule.Provider)
	assert.Equal(t, "gpt-4o-mini", rule.Model)

	_, ok = ParseOrgPreferenceRule("not a rule")
	assert.False(t, ok)
}

func TestCompileOrgPreferenceRulesSkipsInvalidExpression(t *testing.T) {
	good, _ := ParseOrgPreferenceRule(`Priority == "speed" => p/m`)
	bad := OrgRule{Expression: "this is not valid expr syntax &&&", Provider: "p2", Model: "m2"}

	rules := CompileOrgPreferenceRules([]OrgRule{good, bad})

	_, _, ok := rules.Match(OrgEnv{Priority: "speed"})
	assert.True(t, ok, "valid rule still compiles and matches despite a sibling invalid rule")
}

func TestOrgPreferenceRulesMatchFirstInOrder(t *testing.T) {
	r1, _ := ParseOrgPreferenceRule(`OrgID == "acme"  => first/model`)
	r2, _ := ParseOrgPreferenceRule(`OrgID == "acme"  => second/model`)
	rules := CompileOrgPreferenceRules([]OrgRule{r1, r2})

	provider, model, ok := rules.Match(OrgEnv{OrgID: "acme"})
	require.True(t, ok)
	assert.Equal(t, "first", provider)
	assert.Equal(t, "model", model)
}

func TestOrgPreferenceRulesNoMatch(t *testing.T) {
	rules := CompileOrgPreferenceRules(nil)
	_, _, ok := rules.Match(OrgEnv{OrgID: "anyone"})
	assert.False(t, ok)
}
