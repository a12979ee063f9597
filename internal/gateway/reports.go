package gateway

import (
	"context"

	"github.com/joi-ai/voiceworker/internal/synth"
)

// UsageReport is one STT or TTS usage record for cost tracking.
type UsageReport struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
	Provider       string `json:"provider"`
	Service        string `json:"service"`
	Model          string `json:"model"`
	DurationMs     int64  `json:"durationMs"`
	Characters     int    `json:"characters"`
}

// CacheReport carries one turn's cache metrics, correlated to the chat turn
// that produced the audio.
type CacheReport struct {
	ConversationID string
	AgentID        string
	MessageID      string
	Provider       string
	Model          string
	Voice          string
	Metrics        synth.Metrics
}

// cacheReportWire is the gateway's JSON shape for a cache-metrics post.
type cacheReportWire struct {
	ConversationID string           `json:"conversationId"`
	AgentID        string           `json:"agentId"`
	MessageID      string           `json:"messageId"`
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	Voice          string           `json:"voice"`
	Metrics        cacheMetricsWire `json:"metrics"`
}

type cacheMetricsWire struct {
	Segments            int `json:"segments"`
	CacheHits           int `json:"cacheHits"`
	CacheMisses         int `json:"cacheMisses"`
	CacheHitChars       int `json:"cacheHitChars"`
	CacheMissChars      int `json:"cacheMissChars"`
	CacheHitAudioBytes  int `json:"cacheHitAudioBytes"`
	CacheMissAudioBytes int `json:"cacheMissAudioBytes"`
}

// PostUsage reports one usage record. Failures are logged and swallowed.
func (c *Client) PostUsage(ctx context.Context, r UsageReport) {
	c.postJSON(ctx, "/api/voice/usage", r)
}

// PostCacheMetrics reports one turn's cache metrics. Turns without any hit
// or miss are suppressed. Failures are logged and swallowed.
func (c *Client) PostCacheMetrics(ctx context.Context, r CacheReport) {
	if !r.Metrics.HasData() {
		return
	}
	c.postJSON(ctx, "/api/voice/cache-metrics", cacheReportWire{
		ConversationID: r.ConversationID,
		AgentID:        r.AgentID,
		MessageID:      r.MessageID,
		Provider:       r.Provider,
		Model:          r.Model,
		Voice:          r.Voice,
		Metrics: cacheMetricsWire{
			Segments:            r.Metrics.Segments,
			CacheHits:           r.Metrics.CacheHits,
			CacheMisses:         r.Metrics.CacheMisses,
			CacheHitChars:       r.Metrics.CacheHitChars,
			CacheMissChars:      r.Metrics.CacheMissChars,
			CacheHitAudioBytes:  r.Metrics.CacheHitAudioBytes,
			CacheMissAudioBytes: r.Metrics.CacheMissAudioBytes,
		},
	})
	c.log.Info("cache metrics posted",
		"hits", r.Metrics.CacheHits, "misses", r.Metrics.CacheMisses,
		"hit_chars", r.Metrics.CacheHitChars, "miss_chars", r.Metrics.CacheMissChars)
}
