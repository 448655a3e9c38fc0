package pacer

import "github.com/wudi/llmgateway/internal/keyed"

// Registry holds one Pacer per provider.
type Registry struct {
	pacers *keyed.Manager[*Pacer]
}

// NewRegistry creates an empty pacer Registry.
func NewRegistry() *Registry {
	return &Registry{pacers: keyed.New[*Pacer]()}
}

// Register installs a Pacer for the given provider name.
func (r *Registry) Register(provider string, cfg Config) {
	r.pacers.Set(provider, New(provider, cfg))
}

// Get returns the Pacer for a provider, or nil if unregistered.
func (r *Registry) Get(provider string) *Pacer {
	p, _ := r.pacers.Get(provider)
	return p
}

// Stats returns per-provider admission counters.
func (r *Registry) Stats() map[string]Stats {
	out := make(map[string]Stats)
	r.pacers.Range(func(name string, p *Pacer) bool {
		out[name] = p.Stats()
		return true
	})
	return out
}
