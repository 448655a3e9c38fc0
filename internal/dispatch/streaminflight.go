package dispatch

import (
	"sync/atomic"

	"github.com/wudi/llmgateway/internal/keyed"
)

// StreamGroup is the streaming path's own leader/follower map. It is
// deliberately separate from coalesce.Coalescer's singleflight group:
// DispatchStream and Dispatch build the identical CoalesceKey for the
// same logical request, and sharing one singleflight.Group between them
// would let a non-streaming caller win the leader slot a streaming
// follower is waiting on, so the follower would never see meta/delta/done
// and would hang until its own context timed out.
//
// The first caller to bring a key's waiter count from zero to one is the
// leader; every later caller for the same key, while the count stays
// above zero, is a follower.
type StreamGroup struct {
	waiters *keyed.Manager[*atomic.Int64]
}

// NewStreamGroup creates an empty StreamGroup.
func NewStreamGroup() *StreamGroup {
	return &StreamGroup{waiters: keyed.New[*atomic.Int64]()}
}

// join registers the caller as a waiter for key and reports whether it
// is the leader.
func (g *StreamGroup) join(key string) (isLeader bool) {
	counter := g.waiters.GetOrCreate(key, func() *atomic.Int64 { return new(atomic.Int64) })
	return counter.Add(1) == 1
}

// leave unregisters the caller, dropping key's entry once the last
// waiter has left.
func (g *StreamGroup) leave(key string) {
	counter, ok := g.waiters.Get(key)
	if !ok {
		return
	}
	if counter.Add(-1) == 0 {
		g.waiters.Delete(key)
	}
}
