package cache_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/joi-ai/voiceworker/internal/cache"
)

// fakeBackend is an in-memory cache.Backend for chain and facade tests.
type fakeBackend struct {
	name     string
	disabled bool

	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	sets    int
}

var _ cache.Backend = (*fakeBackend)(nil)

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, entries: make(map[string][]byte)}
}

func (f *fakeBackend) Name() string  { return f.name }
func (f *fakeBackend) Enabled() bool { return !f.disabled }

func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	pcm, ok := f.entries[key]
	return pcm, ok
}

func (f *fakeBackend) Set(_ context.Context, key string, pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.entries[key] = pcm
}

func (f *fakeBackend) holds(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

func TestChain_FiltersDisabled(t *testing.T) {
	t.Parallel()

	enabled := newFakeBackend("r1")
	broken := newFakeBackend("r2")
	broken.disabled = true

	c := cache.NewChain(enabled, broken)
	if !c.Enabled() {
		t.Error("chain with one enabled backend should be enabled")
	}
	if got := c.Names(); len(got) != 1 || got[0] != "r1" {
		t.Errorf("Names() = %v, want [r1]", got)
	}

	empty := cache.NewChain(broken)
	if empty.Enabled() {
		t.Error("chain of disabled backends should be disabled")
	}
}

// Scenario: chain = [R1 empty, R2 holding k]. A Get must hit R2, backfill
// R1, and tag the hit with R2's name.
func TestChain_Backfill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r1 := newFakeBackend("r1")
	r2 := newFakeBackend("r2")
	payload := []byte("pcm-data")
	r2.Set(ctx, "k", payload)

	c := cache.NewChain(r1, r2)
	hit, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("Get(k) missed")
	}
	if hit.Source != "r2" {
		t.Errorf("hit source = %q, want r2", hit.Source)
	}
	if !bytes.Equal(hit.PCM, payload) {
		t.Error("hit payload differs from stored payload")
	}
	if !r1.holds("k") {
		t.Error("R1 was not backfilled")
	}

	// A second lookup is served by R1 without touching R2 again.
	r2gets := r2.gets
	hit, ok = c.Get(ctx, "k")
	if !ok || hit.Source != "r1" {
		t.Errorf("second Get = (%q, %v), want hit from r1", hit.Source, ok)
	}
	if r2.gets != r2gets {
		t.Error("R2 queried again although R1 holds the key")
	}
}

func TestChain_SetWritesThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r1 := newFakeBackend("r1")
	r2 := newFakeBackend("r2")
	c := cache.NewChain(r1, r2)

	c.Set(ctx, "k", []byte("v"))
	if !r1.holds("k") || !r2.holds("k") {
		t.Error("Set must write to every backend")
	}
}

func TestChain_MissReturnsFalse(t *testing.T) {
	t.Parallel()

	c := cache.NewChain(newFakeBackend("r1"))
	if _, ok := c.Get(context.Background(), "nope"); ok {
		t.Error("Get on empty chain backend should miss")
	}
}
