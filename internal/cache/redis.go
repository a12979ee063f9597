package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis timeouts are deliberately sub-second: a slow cache must never hold
// up synthesis, which can always fall through to the wrapped TTS.
const (
	redisDialTimeout = 300 * time.Millisecond
	redisIOTimeout   = 500 * time.Millisecond
)

// Redis is a [Backend] storing PCM payloads in a Redis instance with a
// fixed TTL. The client is created lazily on first use; a URL that fails to
// parse disables the backend permanently. An empty URL means the backend
// was never configured and it reports disabled from the start.
type Redis struct {
	url           string
	ttl           time.Duration
	maxAudioBytes int
	log           *slog.Logger

	mu       sync.Mutex
	client   *redis.Client
	disabled bool
}

// Compile-time interface check.
var _ Backend = (*Redis)(nil)

// NewRedis creates a Redis backend for the endpoint in url (redis:// form).
// Payloads larger than maxAudioBytes are ignored on Get and skipped on Set.
func NewRedis(url string, ttl time.Duration, maxAudioBytes int) *Redis {
	return &Redis{
		url:           url,
		ttl:           ttl,
		maxAudioBytes: maxAudioBytes,
		log:           slog.With("component", "tts-cache", "backend", "redis"),
	}
}

// Name implements [Backend].
func (r *Redis) Name() string { return "redis" }

// Enabled implements [Backend].
func (r *Redis) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url != "" && !r.disabled
}

// ensureClient returns the shared client, creating it on first call.
// Construction happens at most once: a parse failure marks the backend
// disabled so later calls return nil immediately.
func (r *Redis) ensureClient() *redis.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.url == "" || r.disabled {
		return nil
	}
	if r.client == nil {
		opts, err := redis.ParseURL(r.url)
		if err != nil {
			r.log.Warn("invalid redis URL, disabling backend", "error", err)
			r.disabled = true
			return nil
		}
		opts.DialTimeout = redisDialTimeout
		opts.ReadTimeout = redisIOTimeout
		opts.WriteTimeout = redisIOTimeout
		opts.MaxRetries = -1 // no auto-retry; misses are cheap
		r.client = redis.NewClient(opts)
	}
	return r.client
}

// Get implements [Backend]. redis.Nil and transport faults are plain
// misses; an oversize payload is ignored but not deleted.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	client := r.ensureClient()
	if client == nil {
		return nil, false
	}
	pcm, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Debug("get failed", "error", err)
		}
		return nil, false
	}
	if len(pcm) > r.maxAudioBytes {
		r.log.Warn("cached payload too large, ignoring", "bytes", len(pcm), "key", truncateKey(key))
		return nil, false
	}
	return pcm, true
}

// Set implements [Backend]. Values are stored with the configured TTL;
// reads do not refresh it.
func (r *Redis) Set(ctx context.Context, key string, pcm []byte) {
	if len(pcm) > r.maxAudioBytes {
		return
	}
	client := r.ensureClient()
	if client == nil {
		return
	}
	if err := client.Set(ctx, key, pcm, r.ttl).Err(); err != nil {
		r.log.Debug("set failed", "error", err)
	}
}

// Ping checks connectivity to the Redis endpoint. Used by readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	client := r.ensureClient()
	if client == nil {
		return errors.New("cache: redis backend disabled")
	}
	return client.Ping(ctx).Err()
}

// truncateKey shortens a cache key for log output.
func truncateKey(key string) string {
	if len(key) <= 24 {
		return key
	}
	return key[:24] + "..."
}
