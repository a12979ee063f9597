package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/joi-ai/voiceworker/internal/cache"
)

// Round-trip coverage for the Postgres backend requires a live database and
// lives in integration environments; these tests cover the construction and
// degradation states that hold without one.

func TestPostgres_DisabledWithoutDSN(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := cache.NewPostgres("", time.Hour, 1<<20)
	if p.Enabled() {
		t.Error("backend with empty DSN should be disabled")
	}
	if _, ok := p.Get(ctx, "k"); ok {
		t.Error("disabled backend must miss")
	}
	p.Set(ctx, "k", []byte("v")) // must be a no-op, not a panic
}

func TestPostgres_InvalidDSNDisablesPermanently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := cache.NewPostgres("://not-a-dsn", time.Hour, 1<<20)
	if _, ok := p.Get(ctx, "k"); ok {
		t.Error("Get with invalid DSN must miss")
	}
	if p.Enabled() {
		t.Error("backend with invalid DSN should disable itself after first use")
	}
}

func TestPostgres_Name(t *testing.T) {
	t.Parallel()

	p := cache.NewPostgres("", time.Hour, 1<<20)
	if p.Name() != "postgres" {
		t.Errorf("Name() = %q, want postgres", p.Name())
	}
}
