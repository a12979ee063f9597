package cache

import "context"

// TwoTier composes the [Local] tier with an optional remote [Chain] behind
// a single get/set surface. The local tier eliminates per-turn network cost
// for hot phrases; the remote tier shares entries across replicas and
// survives restarts.
//
// TwoTier owns its members exclusively and is safe for concurrent use. One
// instance is constructed at worker startup and injected into every
// session.
type TwoTier struct {
	local  *Local
	remote *Chain // nil or empty disables the remote tier
}

// NewTwoTier creates the facade. remote may be nil when no remote backend
// is configured.
func NewTwoTier(local *Local, remote *Chain) *TwoTier {
	return &TwoTier{local: local, remote: remote}
}

// RemoteEnabled reports whether lookups consult a remote chain.
func (t *TwoTier) RemoteEnabled() bool {
	return t.remote != nil && t.remote.Enabled()
}

// RemoteBackends returns the remote backend names in priority order.
func (t *TwoTier) RemoteBackends() []string {
	if t.remote == nil {
		return nil
	}
	return t.remote.Names()
}

// Get tries the local tier first (source [SourceLocal]), then the remote
// chain. A remote hit populates the local tier before it is returned, so a
// repeat lookup is served locally; the hit keeps the remote source tag.
func (t *TwoTier) Get(ctx context.Context, key string) (Hit, bool) {
	if pcm, ok := t.local.Get(key); ok {
		return Hit{PCM: pcm, Source: SourceLocal}, true
	}
	if t.RemoteEnabled() {
		if hit, ok := t.remote.Get(ctx, key); ok {
			t.local.Set(key, hit.PCM)
			return hit, true
		}
	}
	return Hit{}, false
}

// Set writes pcm to the local tier and, when enabled, to the remote chain.
func (t *TwoTier) Set(ctx context.Context, key string, pcm []byte) {
	t.local.Set(key, pcm)
	if t.RemoteEnabled() {
		t.remote.Set(ctx, key, pcm)
	}
}
