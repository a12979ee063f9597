// Package gateway implements the HTTP client for the JOI gateway: the
// streaming chat endpoint the worker forwards user turns to, plus the
// fire-and-forget usage and cache-metrics reporting endpoints.
//
// The gateway owns all LLM logic; this client only relays text and telemetry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/joi-ai/voiceworker/internal/observe"
)

// Terminal chat errors. The session layer maps these to the spoken apology
// lines.
var (
	// ErrServer indicates the gateway answered but reported a failure: a
	// non-200 response or an explicit error event on the stream.
	ErrServer = errors.New("gateway: server error")

	// ErrConnect indicates the stream could not be established or broke
	// mid-turn after retries were exhausted.
	ErrConnect = errors.New("gateway: connection failed")
)

const (
	// DefaultBaseURL is the gateway address used when none is configured.
	DefaultBaseURL = "http://localhost:3100"

	defaultMaxAttempts    = 3
	defaultConnectTimeout = 6 * time.Second
	defaultReadTimeout    = 90 * time.Second
	defaultBackoffUnit    = 300 * time.Millisecond

	// reportTimeout bounds each fire-and-forget POST end to end.
	reportTimeout        = time.Second
	reportConnectTimeout = 400 * time.Millisecond

	// bodySnippet is how much of an error response body makes it into logs.
	bodySnippet = 160
)

// Client talks to one JOI gateway. It is safe for concurrent use.
type Client struct {
	baseURL     string
	chatHTTP    *http.Client
	reportHTTP  *http.Client
	maxAttempts int
	readTimeout time.Duration
	backoffUnit time.Duration
	obs         *observe.Metrics
	log         *slog.Logger
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithChatClient replaces the HTTP client used for the streaming chat
// endpoint. The client must not set an overall timeout: a chat turn is
// open-ended and bounded by the per-read watchdog instead.
func WithChatClient(hc *http.Client) Option {
	return func(c *Client) { c.chatHTTP = hc }
}

// WithReportClient replaces the HTTP client used for usage and cache-metrics
// posts.
func WithReportClient(hc *http.Client) Option {
	return func(c *Client) { c.reportHTTP = hc }
}

// WithMaxAttempts overrides how often a chat connection is attempted before
// giving up. Retries only ever happen before the first streamed chunk.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithReadTimeout overrides the per-line idle watchdog on the SSE stream.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithBackoffUnit overrides the retry backoff unit (attempt n sleeps n units).
func WithBackoffUnit(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoffUnit = d
		}
	}
}

// WithObserver overrides the OTel instruments used for request telemetry.
func WithObserver(m *observe.Metrics) Option {
	return func(c *Client) { c.obs = m }
}

// NewClient creates a gateway client for baseURL. An empty baseURL falls
// back to [DefaultBaseURL].
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		chatHTTP: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: defaultConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: defaultConnectTimeout,
			},
		},
		reportHTTP: &http.Client{
			Timeout: reportTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: reportConnectTimeout,
				}).DialContext,
			},
		},
		maxAttempts: defaultMaxAttempts,
		readTimeout: defaultReadTimeout,
		backoffUnit: defaultBackoffUnit,
		log:         slog.With("component", "gateway"),
	}
	for _, o := range opts {
		o(c)
	}
	if c.obs == nil {
		c.obs = observe.DefaultMetrics()
	}
	return c
}

// BaseURL returns the configured gateway address.
func (c *Client) BaseURL() string { return c.baseURL }

// postJSON fires one report POST. Failures are logged and swallowed: losing
// a telemetry report must never affect the voice loop.
func (c *Client) postJSON(ctx context.Context, path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("encoding report failed", "path", path, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.log.Warn("building report request failed", "path", path, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.reportHTTP.Do(req)
	if err != nil {
		c.log.Debug("report post failed", "path", path, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippet))
		c.log.Warn("report rejected",
			"path", path, "status", resp.StatusCode, "body", string(snippet))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

// redact shortens free text for log lines.
func redact(s string) string {
	if len(s) <= 80 {
		return s
	}
	return fmt.Sprintf("%s… (%d bytes)", s[:80], len(s))
}
