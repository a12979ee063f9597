package cache

import (
	"container/list"
	"sync"
)

// Local is the in-process audio cache tier: a mapping from key to PCM
// payload bounded both by entry count and by aggregate byte size, with
// least-recently-used eviction and promote-on-read.
//
// Payloads are stored and returned without copying; callers must treat
// them as immutable.
//
// Local is safe for concurrent use. Reads are O(1); a write is O(entries
// evicted).
type Local struct {
	maxItems int
	maxBytes int

	mu       sync.Mutex
	curBytes int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

// localEntry is the value stored in the recency list.
type localEntry struct {
	key string
	pcm []byte
}

// NewLocal creates a Local bounded by maxItems entries and maxBytes total
// payload bytes. maxItems == 0 disables the tier entirely: Set is a no-op
// and Get always misses.
func NewLocal(maxItems, maxBytes int) *Local {
	return &Local{
		maxItems: maxItems,
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the payload stored under key and promotes the entry to most
// recently used. ok is false on a miss.
func (c *Local) Get(key string) (pcm []byte, ok bool) {
	if c.maxItems <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*localEntry).pcm, true
}

// Set stores pcm under key as the most-recently-used entry, then evicts
// from the least-recently-used end until both bounds hold again.
//
// A payload larger than the byte bound is rejected outright — admitting it
// would force the cache to evict everything and still be over budget.
// Replacing an existing key adjusts the byte counter by the size delta.
func (c *Local) Set(key string, pcm []byte) {
	if c.maxItems <= 0 || len(pcm) > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*localEntry)
		c.curBytes += len(pcm) - len(entry.pcm)
		entry.pcm = pcm
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&localEntry{key: key, pcm: pcm})
		c.curBytes += len(pcm)
	}

	for c.order.Len() > c.maxItems || c.curBytes > c.maxBytes {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		entry := tail.Value.(*localEntry)
		c.order.Remove(tail)
		delete(c.items, entry.key)
		c.curBytes -= len(entry.pcm)
	}
}

// Len returns the current entry count.
func (c *Local) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes returns the current total payload size.
func (c *Local) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
