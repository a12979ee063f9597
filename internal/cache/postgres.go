package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgConnectTimeout = 300 * time.Millisecond
	pgQueryTimeout   = 500 * time.Millisecond
)

// pgSchema holds one row per cache entry. Expired rows are filtered on
// read, never deleted; Redis flushes and restarts are the scenario this
// backend exists for, so durability wins over tidiness.
const pgSchema = `
CREATE TABLE IF NOT EXISTS voiceworker_tts_audio (
	key        text PRIMARY KEY,
	pcm        bytea NOT NULL,
	expires_at timestamptz NOT NULL
)`

// Postgres is a [Backend] storing PCM payloads in a PostgreSQL table,
// typically chained behind Redis for durability across cache flushes. The
// pool is created lazily on first use and the schema is ensured at that
// point; a DSN that fails to parse or a failed first connection disables
// the backend permanently.
type Postgres struct {
	dsn           string
	ttl           time.Duration
	maxAudioBytes int
	log           *slog.Logger

	mu       sync.Mutex
	pool     *pgxpool.Pool
	disabled bool
}

// Compile-time interface check.
var _ Backend = (*Postgres)(nil)

// NewPostgres creates a Postgres backend for the database at dsn.
// Payloads larger than maxAudioBytes are ignored on Get and skipped on Set.
func NewPostgres(dsn string, ttl time.Duration, maxAudioBytes int) *Postgres {
	return &Postgres{
		dsn:           dsn,
		ttl:           ttl,
		maxAudioBytes: maxAudioBytes,
		log:           slog.With("component", "tts-cache", "backend", "postgres"),
	}
}

// Name implements [Backend].
func (p *Postgres) Name() string { return "postgres" }

// Enabled implements [Backend].
func (p *Postgres) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dsn != "" && !p.disabled
}

// ensurePool returns the shared pool, creating it and the schema on first
// call. Construction happens at most once; any failure disables the
// backend so later calls return nil immediately.
func (p *Postgres) ensurePool(ctx context.Context) *pgxpool.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dsn == "" || p.disabled {
		return nil
	}
	if p.pool == nil {
		cfg, err := pgxpool.ParseConfig(p.dsn)
		if err != nil {
			p.log.Warn("invalid postgres DSN, disabling backend", "error", err)
			p.disabled = true
			return nil
		}
		cfg.ConnConfig.ConnectTimeout = pgConnectTimeout

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			p.log.Warn("pool creation failed, disabling backend", "error", err)
			p.disabled = true
			return nil
		}

		schemaCtx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
		defer cancel()
		if _, err := pool.Exec(schemaCtx, pgSchema); err != nil {
			p.log.Warn("schema creation failed, disabling backend", "error", err)
			pool.Close()
			p.disabled = true
			return nil
		}
		p.pool = pool
	}
	return p.pool
}

// Get implements [Backend]. Missing and expired rows are plain misses; an
// oversize payload is ignored but not deleted.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool) {
	pool := p.ensurePool(ctx)
	if pool == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var pcm []byte
	err := pool.QueryRow(ctx,
		`SELECT pcm FROM voiceworker_tts_audio WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&pcm)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			p.log.Debug("get failed", "error", err)
		}
		return nil, false
	}
	if len(pcm) > p.maxAudioBytes {
		p.log.Warn("cached payload too large, ignoring", "bytes", len(pcm), "key", truncateKey(key))
		return nil, false
	}
	return pcm, true
}

// Set implements [Backend]. Upserts the row with a fresh expiry.
func (p *Postgres) Set(ctx context.Context, key string, pcm []byte) {
	if len(pcm) > p.maxAudioBytes {
		return
	}
	pool := p.ensurePool(ctx)
	if pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	_, err := pool.Exec(ctx,
		`INSERT INTO voiceworker_tts_audio (key, pcm, expires_at)
		 VALUES ($1, $2, now() + $3)
		 ON CONFLICT (key) DO UPDATE SET pcm = EXCLUDED.pcm, expires_at = EXCLUDED.expires_at`,
		key, pcm, p.ttl,
	)
	if err != nil {
		p.log.Debug("set failed", "error", err)
	}
}

// Close releases the connection pool if one was created.
func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}
