package router

import (
	"context"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tidwall/gjson"

	"github.com/wudi/llmgateway/internal/logging"
)

// ClassifyFn calls out to a (typically small, fast) model and returns its
// raw JSON response, e.g. {"capability":0.8,"estimated_tokens":1200}.
type ClassifyFn func(ctx context.Context, userMessage string) (json string, err error)

// LLMClassifier parses a classifier model's JSON response defensively:
// malformed or partial output falls back to DefaultIntent rather than
// failing the dispatch, since routing is a best-effort optimization, not
// a correctness requirement.
type LLMClassifier struct {
	call ClassifyFn
}

// NewLLMClassifier wraps a raw model-calling function as a Classifier.
func NewLLMClassifier(call ClassifyFn) *LLMClassifier {
	return &LLMClassifier{call: call}
}

func (c *LLMClassifier) Classify(ctx context.Context, userMessage string) (Intent, error) {
	raw, err := c.call(ctx, userMessage)
	if err != nil {
		logging.Warn("router classifier call failed, using default intent")
		return DefaultIntent, nil
	}

	if !gjson.Valid(raw) {
		return DefaultIntent, nil
	}

	intent := DefaultIntent
	if v := gjson.Get(raw, "capability"); v.Exists() && v.Type == gjson.Number {
		if cap := v.Float(); cap >= 0 && cap <= 1 {
			intent.RequiredCapability = cap
		}
	}
	if v := gjson.Get(raw, "estimated_tokens"); v.Exists() && v.Type == gjson.Number {
		if tokens := v.Int(); tokens > 0 {
			intent.EstimatedTokens = int(tokens)
		}
	}
	return intent, nil
}

// OrgPreferenceRules compiles and evaluates org-level routing overrides:
// boolean expressions over an OrgEnv that, when true, pin a candidate's
// provider/model for that org regardless of score.
type OrgPreferenceRules struct {
	rules []compiledOrgRule
}

type compiledOrgRule struct {
	expression string
	program    *vm.Program
	provider   string
	model      string
}

// OrgEnv is the expression environment org-preference rules evaluate
// against.
type OrgEnv struct {
	OrgID    string
	Priority string
}

// OrgRule is one source-form entry: "<expression> => provider/model".
type OrgRule struct {
	Expression string
	Provider   string
	Model      string
}

// CompileOrgPreferenceRules compiles a set of org-preference rules.
// Expressions that fail to compile are skipped, not fatal, since a
// misconfigured preference rule should degrade to "no pin," not break
// routing for every org.
func CompileOrgPreferenceRules(rules []OrgRule) *OrgPreferenceRules {
	compiled := make([]compiledOrgRule, 0, len(rules))
	for _, r := range rules {
		program, err := expr.Compile(r.Expression, expr.Env(OrgEnv{}), expr.AsBool())
		if err != nil {
			logging.Warn("org preference rule failed to compile, skipping: " + r.Expression)
			continue
		}
		compiled = append(compiled, compiledOrgRule{
			expression: r.Expression,
			program:    program,
			provider:   r.Provider,
			model:      r.Model,
		})
	}
	return &OrgPreferenceRules{rules: compiled}
}

// ParseOrgPreferenceRule parses one "<expr> => provider/model" config
// line into a OrgRule.
func ParseOrgPreferenceRule(line string) (OrgRule, bool) {
	parts := strings.SplitN(line, "=>", 2)
	if len(parts) != 2 {
		return OrgRule{}, false
	}
	target := strings.SplitN(strings.TrimSpace(parts[1]), "/", 2)
	if len(target) != 2 {
		return OrgRule{}, false
	}
	return OrgRule{
		Expression: strings.TrimSpace(parts[0]),
		Provider:   strings.TrimSpace(target[0]),
		Model:      strings.TrimSpace(target[1]),
	}, true
}

// Match evaluates every compiled rule in order and returns the first
// match's pinned provider/model.
func (o *OrgPreferenceRules) Match(env OrgEnv) (provider, model string, ok bool) {
	for _, r := range o.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		matched, _ := out.(bool)
		if matched {
			return r.provider, r.model, true
		}
	}
	return "", "", false
}
