// Package coalesce deduplicates concurrent identical dispatch requests so
// that only one upstream provider call is ever issued per coalesce key.
package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

// Role reports whether a caller was the leader or a follower for a run.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// LeaderFn produces a LeaderOutput for a coalesce key. It is invoked at
// most once per key per in-flight window.
type LeaderFn func(ctx context.Context) (gatewaytypes.LeaderOutput, error)

// Stats holds coalescing counters, sampled by the metrics package.
type Stats struct {
	Leaders         int64
	Followers       int64
	Timeouts        int64
	NegativeCacheHits int64
}

// Coalescer implements the non-streaming run(key, leader_fn) contract
// from the dispatch core, used by the non-SSE dispatch path. It is built
// on singleflight for the leader/follower fan-in, with an expiring LRU
// layered on top for the negative-cache-on-failure requirement that
// singleflight alone doesn't provide.
type Coalescer struct {
	group          singleflight.Group
	negCache       *expirable.LRU[string, error]
	ttl            time.Duration
	inflightCounts sync.Map // key -> *atomic.Int64, counts current waiters to identify the leader

	leaders   atomic.Int64
	followers atomic.Int64
	timeouts  atomic.Int64
	negHits   atomic.Int64
}

// New creates a Coalescer. ttl bounds how long a leader may run before
// being treated as failed; negTTL and negSize bound the negative-result
// cache used to short-circuit thundering herds on a failing upstream.
func New(ttl, negTTL time.Duration, negSize int) *Coalescer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if negSize <= 0 {
		negSize = 4096
	}
	return &Coalescer{
		ttl:      ttl,
		negCache: expirable.NewLRU[string, error](negSize, nil, negTTL),
	}
}

// Run executes fn at most once for key among all concurrent callers,
// returning the shared LeaderOutput (or the shared/negative-cached error)
// to every caller.
func (c *Coalescer) Run(ctx context.Context, key string, fn LeaderFn) (gatewaytypes.LeaderOutput, Role, error) {
	if cached, ok := c.negCache.Get(key); ok {
		c.negHits.Add(1)
		return gatewaytypes.LeaderOutput{}, RoleFollower, cached
	}

	// The first caller to join this key's waiter count becomes the
	// leader; singleflight itself doesn't expose which caller "won",
	// so we track it explicitly with a per-key counter.
	counterI, _ := c.inflightCounts.LoadOrStore(key, new(atomic.Int64))
	counter := counterI.(*atomic.Int64)
	role := RoleFollower
	if counter.Add(1) == 1 {
		role = RoleLeader
	}
	defer func() {
		if counter.Add(-1) == 0 {
			c.inflightCounts.Delete(key)
		}
	}()
	if role == RoleLeader {
		c.leaders.Add(1)
	} else {
		c.followers.Add(1)
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		leaderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.ttl)
		defer cancel()
		out, err := fn(leaderCtx)
		if err != nil {
			c.negCache.Add(key, err)
			return gatewaytypes.LeaderOutput{}, err
		}
		return out, nil
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return gatewaytypes.LeaderOutput{}, role, result.Err
		}
		return result.Val.(gatewaytypes.LeaderOutput), role, nil

	case <-ctx.Done():
		// This caller's own deadline/cancellation fired; it does not
		// affect the leader, which keeps running for other waiters.
		return gatewaytypes.LeaderOutput{}, role, ctx.Err()
	}
}

// Stats returns a snapshot of coalescing counters.
func (c *Coalescer) Stats() Stats {
	return Stats{
		Leaders:           c.leaders.Load(),
		Followers:         c.followers.Load(),
		Timeouts:          c.timeouts.Load(),
		NegativeCacheHits: c.negHits.Load(),
	}
}
