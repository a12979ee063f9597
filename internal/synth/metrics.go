package synth

// Metrics are the per-turn cache counters accumulated by the adapter and
// handed to the metrics callback when the turn's segment stream ends.
//
// Segments counts every non-empty segment; hits and misses count only the
// cache-eligible ones, so CacheHits+CacheMisses never exceeds Segments. A
// segment whose synthesis fails contributes to Segments only.
type Metrics struct {
	Segments            int
	CacheHits           int
	CacheMisses         int
	CacheHitChars       int
	CacheMissChars      int
	CacheHitAudioBytes  int
	CacheMissAudioBytes int
}

// HasData reports whether the turn produced any cache activity. The
// gateway client suppresses posts for turns without data.
func (m Metrics) HasData() bool {
	return m.CacheHits+m.CacheMisses > 0
}
