package hub

import "github.com/wudi/llmgateway/internal/keyed"

// Registry looks up or creates the Hub for a coalesce key. The leader
// creates (or reuses, if already present) the hub for its key before
// producing; followers subscribe to the same hub by looking it up.
type Registry struct {
	hubs      *keyed.Manager[*Hub]
	queueSize int
}

// NewRegistry creates a hub Registry with the given per-subscriber queue size.
func NewRegistry(queueSize int) *Registry {
	return &Registry{hubs: keyed.New[*Hub](), queueSize: queueSize}
}

// GetOrCreate returns the existing hub for key, or creates one. Idempotent
// per key, matching the publisher(key) contract.
func (r *Registry) GetOrCreate(key string) *Hub {
	return r.hubs.GetOrCreate(key, func() *Hub { return New(r.queueSize) })
}

// Release removes the hub for key from the registry after it has closed.
func (r *Registry) Release(key string) {
	r.hubs.Delete(key)
}
