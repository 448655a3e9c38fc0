package coalesce

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

// keyInput is the canonical shape hashed to produce a CoalesceKey. Field
// order is fixed by the struct tags below and json.Marshal's stable
// struct-field ordering, so identical inputs always serialize identically.
type keyInput struct {
	Provider     string                          `json:"provider"`
	Model        string                          `json:"model"`
	Messages     []gatewaytypes.MessageEnvelope   `json:"messages"`
	RoutingFlags map[string]string                `json:"routing_flags"`
}

// BuildKey computes a deterministic fingerprint over (provider, model,
// normalized messages, routing flags). Equal inputs always hash equal;
// any input that could change the final answer changes the hash.
func BuildKey(provider, model string, messages []gatewaytypes.MessageEnvelope, routingFlags map[string]string) string {
	flags := routingFlags
	if flags == nil {
		flags = map[string]string{}
	}
	// sort flag keys isn't needed for json.Marshal (maps are sorted by
	// encoding/json already), but we normalize explicitly for clarity.
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	normalized := make(map[string]string, len(keys))
	for _, k := range keys {
		normalized[k] = flags[k]
	}

	in := keyInput{Provider: provider, Model: model, Messages: messages, RoutingFlags: normalized}
	data, err := json.Marshal(in)
	if err != nil {
		// Marshal of this struct cannot fail in practice (no channels,
		// funcs, or cyclic pointers); fall back to hashing the message
		// count so a caller never panics on a coalesce key computation.
		data = []byte(strconv.Itoa(len(messages)))
	}

	sum := xxhash.Sum64(data)
	return strconv.FormatUint(sum, 16)
}
