// Package cache implements the two-tier TTS audio cache: a bounded
// in-process LRU in front of an ordered chain of best-effort remote
// backends (Redis, Postgres).
//
// Entries are raw little-endian 16-bit PCM payloads keyed by a SHA-256
// digest over the normalized segment text and the synthesis fingerprint
// (provider, model, voice, sample rate, channel count). Keys are
// byte-identical across worker replicas, so every replica sharing a remote
// backend benefits from every other replica's synthesis work.
//
// All remote operations are best effort: transport faults, decode faults,
// and oversize payloads degrade to a miss (on Get) or a no-op (on Set) and
// are never surfaced to the synthesis path.
package cache

import "context"

// SourceLocal is the hit source reported for the in-process tier.
const SourceLocal = "local"

// Hit is a successful cache lookup: the PCM payload and the tier that
// produced it — [SourceLocal] or a remote backend's name.
type Hit struct {
	PCM    []byte
	Source string
}

// Backend is a single remote audio-cache backend. Implementations are best
// effort: Get reports a miss and Set is a no-op on any transport or decode
// fault. Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in hit sources and logs, e.g. "redis".
	// Stable for the lifetime of the backend.
	Name() string

	// Enabled reports whether the backend can serve requests. A backend
	// whose client fails construction is disabled permanently.
	Enabled() bool

	// Get returns the payload stored under key, or ok=false on a miss or
	// any fault.
	Get(ctx context.Context, key string) (pcm []byte, ok bool)

	// Set stores pcm under key with the backend's configured TTL. Faults
	// are swallowed.
	Set(ctx context.Context, key string, pcm []byte)
}
