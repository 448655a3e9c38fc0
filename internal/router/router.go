// Package router implements the Dynamic Router: a pluggable scorer that
// picks a (provider, model) pair for each dispatch from the set of
// candidates whose context window fits the request, weighted by
// capability, latency, cost, and historical reward, with epsilon-greedy
// exploration so the router never fully exploits a single winner.
package router

import (
	"context"
	"math/rand"
	"sort"

	"github.com/wudi/llmgateway/internal/config"
	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

// Classifier estimates, for a piece of user content, how demanding the
// request is along axes the scorer needs but cannot derive from static
// config: required capability, and an estimated token count that is
// checked against each candidate's context window. Implementations may
// call out to an LLM; a nil Classifier falls back to DefaultIntent.
type Classifier interface {
	Classify(ctx context.Context, userMessage string) (Intent, error)
}

// Intent is the classifier's estimate of a request's requirements.
type Intent struct {
	RequiredCapability float64 // 0..1, higher = harder task
	EstimatedTokens    int
}

// DefaultIntent is used whenever no classifier is configured or the
// classifier's output cannot be parsed into an Intent.
var DefaultIntent = Intent{RequiredCapability: 0.5, EstimatedTokens: 500}

// Candidate is one (provider, model) pair the router can choose.
type Candidate struct {
	Provider      string
	Model         string
	ContextWindow int
	Capability    float64 // 0..1, static per-model rating
	CostPerMTokIn float64
	CostPerMTokOut float64
}

// HistorySource reports the router's running success rate for a
// candidate, used as the "historical reward" scoring term.
type HistorySource interface {
	// Reward returns (positive-negative)/attempts for provider/model,
	// defaulting to 0.5 (neutral) when there is no history yet.
	Reward(provider, model string) float64
	// LatencyScore returns a 0..1 speed rating (1 = fastest observed),
	// defaulting to 0.5 when there is no history yet.
	LatencyScore(provider, model string) float64
}

// Router selects a candidate for one dispatch.
type Router struct {
	candidates []Candidate
	history    HistorySource
	classifier Classifier
	orgPrefs   *OrgPreferenceRules
	cfg        config.RouterConfig
	rng        *rand.Rand
}

// New builds a Router over the given candidate pool.
func New(candidates []Candidate, history HistorySource, classifier Classifier, orgPrefs *OrgPreferenceRules, cfg config.RouterConfig) *Router {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.1
	}
	return &Router{
		candidates: candidates,
		history:    history,
		classifier: classifier,
		orgPrefs:   orgPrefs,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// Route picks a (provider, model) for a request. priority selects the
// weight profile ("default", "latency", "cost", ...); an unknown
// priority falls back to "default". orgID is passed through for
// org-preference rule evaluation.
func (r *Router) Route(ctx context.Context, orgID, priority, userMessage string, pinnedProvider, pinnedModel string) gatewaytypes.RouteDecision {
	if pinnedProvider != "" && pinnedModel != "" {
		return gatewaytypes.RouteDecision{
			Provider: pinnedProvider,
			Model:    pinnedModel,
			Reason:   "pinned by caller",
		}
	}

	if r.orgPrefs != nil {
		if provider, model, ok := r.orgPrefs.Match(OrgEnv{OrgID: orgID, Priority: priority}); ok {
			return gatewaytypes.RouteDecision{
				Provider: provider,
				Model:    model,
				Reason:   "org preference rule",
			}
		}
	}

	intent := DefaultIntent
	if r.classifier != nil {
		if classified, err := r.classifier.Classify(ctx, userMessage); err == nil {
			intent = classified
		}
	}

	weights, ok := r.cfg.WeightsByPriority[priority]
	if !ok {
		weights, ok = r.cfg.WeightsByPriority["default"]
		if !ok {
			weights = config.Weights{Capability: 0.4, Latency: 0.3, Cost: 0.2, History: 0.1}
		}
	}

	eligible := r.eligible(intent)
	if len(eligible) == 0 {
		return gatewaytypes.RouteDecision{Reason: "no candidate fits the estimated context window"}
	}

	scores := r.score(eligible, intent, weights)
	sort.Slice(scores, func(i, j int) bool { return scores[i].Total > scores[j].Total })

	chosen := scores[0]
	reason := "highest composite score"
	if len(scores) > 1 && r.rng.Float64() < r.cfg.Epsilon {
		chosen = scores[1]
		reason = "epsilon-greedy exploration"
	}

	return gatewaytypes.RouteDecision{
		Provider: chosen.Provider,
		Model:    chosen.Model,
		Reason:   reason,
		Scores:   scores,
	}
}

func (r *Router) eligible(intent Intent) []Candidate {
	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		if c.ContextWindow > 0 && c.ContextWindow < intent.EstimatedTokens {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Router) score(candidates []Candidate, intent Intent, w config.Weights) []gatewaytypes.ScoreEntry {
	out := make([]gatewaytypes.ScoreEntry, 0, len(candidates))
	for _, c := range candidates {
		capability := 1 - absDiff(c.Capability, intent.RequiredCapability)

		latency := 0.5
		historical := 0.5
		if r.history != nil {
			latency = r.history.LatencyScore(c.Provider, c.Model)
			historical = r.history.Reward(c.Provider, c.Model)
		}

		cost := costScore(c.CostPerMTokIn, c.CostPerMTokOut)

		total := w.Capability*capability + w.Latency*latency + w.Cost*cost + w.History*historical

		out = append(out, gatewaytypes.ScoreEntry{
			Provider:   c.Provider,
			Model:      c.Model,
			Total:      total,
			Capability: capability,
			Latency:    latency,
			Cost:       cost,
			Historical: historical,
		})
	}
	return out
}

// costScore maps a cost-per-million-token figure to a 0..1 "cheapness"
// rating; cheaper candidates score closer to 1. A fixed reference
// ceiling avoids needing a second pass over the candidate pool just to
// find the max cost.
const costCeiling = 60.0 // USD per million tokens, blended in+out

func costScore(inCost, outCost float64) float64 {
	blended := (inCost + outCost) / 2
	if blended <= 0 {
		return 1
	}
	score := 1 - blended/costCeiling
	if score < 0 {
		return 0
	}
	return score
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
