package cache_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/joi-ai/voiceworker/internal/cache"
)

func pcmOf(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func TestLocal_SetGet(t *testing.T) {
	t.Parallel()

	c := cache.NewLocal(8, 1024)
	payload := pcmOf(100, 0xAA)
	c.Set("k1", payload)

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("Get(k1) missed after Set")
	}
	if !bytes.Equal(got, payload) {
		t.Error("Get(k1) returned different payload")
	}
	if c.Len() != 1 || c.Bytes() != 100 {
		t.Errorf("Len=%d Bytes=%d, want 1/100", c.Len(), c.Bytes())
	}

	if _, ok := c.Get("absent"); ok {
		t.Error("Get(absent) should miss")
	}
}

func TestLocal_Disabled(t *testing.T) {
	t.Parallel()

	c := cache.NewLocal(0, 1024)
	c.Set("k", pcmOf(10, 1))
	if _, ok := c.Get("k"); ok {
		t.Error("maxItems=0 cache must always miss")
	}
	if c.Len() != 0 || c.Bytes() != 0 {
		t.Errorf("disabled cache holds state: Len=%d Bytes=%d", c.Len(), c.Bytes())
	}
}

func TestLocal_RejectsOversize(t *testing.T) {
	t.Parallel()

	c := cache.NewLocal(8, 256)
	c.Set("big", pcmOf(257, 1))
	if _, ok := c.Get("big"); ok {
		t.Error("payload larger than maxBytes must never be admitted")
	}
	if c.Len() != 0 || c.Bytes() != 0 {
		t.Errorf("oversize Set changed state: Len=%d Bytes=%d", c.Len(), c.Bytes())
	}

	// Exactly maxBytes is still admissible.
	c.Set("fit", pcmOf(256, 2))
	if _, ok := c.Get("fit"); !ok {
		t.Error("payload equal to maxBytes should be admitted")
	}
}

func TestLocal_ReplaceAdjustsBytes(t *testing.T) {
	t.Parallel()

	c := cache.NewLocal(8, 1024)
	c.Set("k", pcmOf(100, 1))
	c.Set("k", pcmOf(40, 2))

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if c.Bytes() != 40 {
		t.Errorf("Bytes = %d, want 40 after replacement", c.Bytes())
	}
	got, _ := c.Get("k")
	if len(got) != 40 || got[0] != 2 {
		t.Error("Get returned stale payload after replacement")
	}

	// Idempotent re-set of the identical payload leaves the counter alone.
	c.Set("k", pcmOf(40, 2))
	if c.Bytes() != 40 {
		t.Errorf("Bytes = %d, want 40 after idempotent re-set", c.Bytes())
	}
}

// Scenario: max_items=2, 100-byte entries; set A, set B, touch A, set C.
// B is least recently used at insertion time and must be the one evicted.
func TestLocal_LRUEviction(t *testing.T) {
	t.Parallel()

	c := cache.NewLocal(2, 1024)
	c.Set("A", pcmOf(100, 'a'))
	c.Set("B", pcmOf(100, 'b'))
	if _, ok := c.Get("A"); !ok {
		t.Fatal("Get(A) missed")
	}
	c.Set("C", pcmOf(100, 'c'))

	if _, ok := c.Get("B"); ok {
		t.Error("B should have been evicted")
	}
	if _, ok := c.Get("A"); !ok {
		t.Error("A should have survived (promoted by Get)")
	}
	if _, ok := c.Get("C"); !ok {
		t.Error("C should be present")
	}
	if c.Len() != 2 || c.Bytes() != 200 {
		t.Errorf("Len=%d Bytes=%d, want 2/200", c.Len(), c.Bytes())
	}
}

func TestLocal_EvictsByItemCount(t *testing.T) {
	t.Parallel()

	const n = 4
	c := cache.NewLocal(n, 1<<20)
	for i := 0; i < n+1; i++ {
		c.Set(fmt.Sprintf("k%d", i), pcmOf(10, byte(i)))
	}
	if c.Len() != n {
		t.Errorf("Len = %d, want %d after N+1 inserts", c.Len(), n)
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("k0 was least recently used and should be evicted")
	}
	if _, ok := c.Get(fmt.Sprintf("k%d", n)); !ok {
		t.Error("most recent insert must be present")
	}
}

func TestLocal_EvictsByByteBudget(t *testing.T) {
	t.Parallel()

	c := cache.NewLocal(100, 250)
	c.Set("A", pcmOf(100, 'a'))
	c.Set("B", pcmOf(100, 'b'))
	c.Set("C", pcmOf(100, 'c')) // pushes total to 300, evicting A

	if _, ok := c.Get("A"); ok {
		t.Error("A should have been evicted to satisfy the byte budget")
	}
	if c.Bytes() > 250 {
		t.Errorf("Bytes = %d exceeds budget 250", c.Bytes())
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}
