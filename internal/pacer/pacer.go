// Package pacer enforces per-provider admission control: a token bucket
// for requests-per-second and a bounded semaphore for concurrency, backed
// by a circuit breaker that fails fast once a provider is unhealthy.
package pacer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/wudi/llmgateway/internal/errors"
	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

// Permit represents a held concurrency slot; it must be released exactly
// once via Pacer.Release.
type Permit struct {
	weight int64
}

// Pacer admits calls to a single provider within its configured RPS and
// concurrency limits, and short-circuits via a breaker once the provider
// is failing consistently.
type Pacer struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker[gatewaytypes.LeaderOutput]

	admitted  atomic.Int64
	timedOut  atomic.Int64
}

// Config configures a provider's pacer.
type Config struct {
	RPS              float64
	Burst            int
	Concurrency      int64
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// New creates a Pacer for one provider.
func New(name string, cfg Config) *Pacer {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "pacer:" + name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}

	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		breaker: gobreaker.NewCircuitBreaker[gatewaytypes.LeaderOutput](settings),
	}
}

// Acquire waits for both a rate-limiter token and a concurrency slot,
// bounded by deadline. It returns the queue-wait duration measured from
// call entry to return, per provider_meta.queue_wait_ms.
func (p *Pacer) Acquire(ctx context.Context, deadline time.Time) (*Permit, time.Duration, error) {
	start := time.Now()

	acquireCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		acquireCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if err := p.limiter.Wait(acquireCtx); err != nil {
		p.timedOut.Add(1)
		return nil, time.Since(start), errors.Wrap(err, errors.KindTimeout, "pacer rate-limit wait timed out")
	}
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.timedOut.Add(1)
		return nil, time.Since(start), errors.Wrap(err, errors.KindTimeout, "pacer concurrency wait timed out")
	}

	p.admitted.Add(1)
	return &Permit{weight: 1}, time.Since(start), nil
}

// Release returns the concurrency slot held by permit. The rate-limiter
// token is consumed, not returned, per the token-bucket contract.
func (p *Pacer) Release(permit *Permit) {
	if permit == nil {
		return
	}
	p.sem.Release(permit.weight)
}

// Execute runs fn through the provider's circuit breaker: if the breaker
// is open (the provider has been failing consistently), it returns
// immediately without calling fn at all. fn is responsible for its own
// Acquire/Release around the actual upstream call.
func (p *Pacer) Execute(fn func() (gatewaytypes.LeaderOutput, error)) (gatewaytypes.LeaderOutput, error) {
	out, err := p.breaker.Execute(fn)
	if err == gobreaker.ErrOpenState {
		return gatewaytypes.LeaderOutput{}, errors.New(errors.KindUpstreamTransient, "provider circuit breaker open")
	}
	return out, err
}

// Stats reports admission counters for observability.
type Stats struct {
	Admitted int64
	TimedOut int64
}

func (p *Pacer) Stats() Stats {
	return Stats{Admitted: p.admitted.Load(), TimedOut: p.timedOut.Load()}
}
