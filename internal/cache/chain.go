package cache

import "context"

// Chain consults an ordered list of remote backends, highest priority
// first. A hit found deeper in the chain is written back to every backend
// in front of it ("backfill") so the next lookup is served closer to the
// worker. Disabled backends are filtered out at construction.
type Chain struct {
	backends []Backend
}

// NewChain creates a Chain over the enabled subset of backends, preserving
// their order.
func NewChain(backends ...Backend) *Chain {
	c := &Chain{}
	for _, b := range backends {
		if b.Enabled() {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

// Enabled reports whether the chain has at least one backend.
func (c *Chain) Enabled() bool { return len(c.backends) > 0 }

// Names returns the backend names in priority order, for startup logging.
func (c *Chain) Names() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Get queries the backends in order. On the first hit, every backend at a
// higher priority is backfilled with the payload before the hit is
// returned, tagged with the producing backend's name.
func (c *Chain) Get(ctx context.Context, key string) (Hit, bool) {
	for i, b := range c.backends {
		pcm, ok := b.Get(ctx, key)
		if !ok {
			continue
		}
		for _, front := range c.backends[:i] {
			front.Set(ctx, key, pcm)
		}
		return Hit{PCM: pcm, Source: b.Name()}, true
	}
	return Hit{}, false
}

// Set writes pcm to every backend. Per-backend failures are independent
// and swallowed by the backends themselves.
func (c *Chain) Set(ctx context.Context, key string, pcm []byte) {
	for _, b := range c.backends {
		b.Set(ctx, key, pcm)
	}
}
