package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joi-ai/voiceworker/internal/observe"
)

// ChatRequest is one user turn forwarded to the gateway.
type ChatRequest struct {
	ConversationID    string `json:"conversationId"`
	AgentID           string `json:"agentId"`
	Message           string `json:"message"`
	VoicePromptSuffix string `json:"voicePromptSuffix"`
}

// Done is the terminal event of a successful chat stream.
type Done struct {
	MessageID string
	Model     string
	ToolModel string
	Usage     json.RawMessage
	LatencyMs float64
}

// Event is one item on a chat stream: a text delta, or exactly one terminal
// event carrying either Done or Err.
type Event struct {
	Delta string
	Done  *Done
	Err   error
}

// sseEvent is the wire shape of one gateway SSE data line.
type sseEvent struct {
	Type      string          `json:"type"`
	Delta     string          `json:"delta"`
	MessageID string          `json:"messageId"`
	Model     string          `json:"model"`
	ToolModel string          `json:"toolModel"`
	Usage     json.RawMessage `json:"usage"`
	LatencyMs float64         `json:"latencyMs"`
	Error     string          `json:"error"`
}

// Chat posts one user turn and streams the reply. The returned channel
// carries zero or more delta events followed by exactly one terminal event,
// then closes.
//
// Connection failures before the first chunk are retried with linear
// backoff; once a chunk has arrived, or on the final attempt, a transport
// failure terminates the stream with [ErrConnect]. A non-200 response or an
// explicit error event terminates with [ErrServer] and is never retried.
func (c *Client) Chat(ctx context.Context, req ChatRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		c.runChat(ctx, req, events)
	}()
	return events
}

func (c *Client) runChat(ctx context.Context, req ChatRequest, events chan<- Event) {
	ctx, span := observe.ChatSpan(ctx, req.ConversationID, req.AgentID)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		c.emit(ctx, events, Event{Err: fmt.Errorf("gateway: encoding chat request: %w", err)})
		return
	}
	started := time.Now()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		chunks, err := c.streamAttempt(ctx, body, events)
		if err == nil {
			c.recordChat(ctx, started, "ok")
			return
		}
		if ctx.Err() != nil {
			c.emit(ctx, events, Event{Err: ctx.Err()})
			return
		}
		if errors.Is(err, ErrServer) {
			c.log.Error("gateway reported an error", "error", err)
			c.recordChat(ctx, started, "server_error")
			c.emit(ctx, events, Event{Err: err})
			return
		}

		// Transport fault. Retry only if the stream never started and
		// attempts remain.
		if chunks == 0 && attempt < c.maxAttempts {
			backoff := time.Duration(attempt) * c.backoffUnit
			c.log.Warn("chat stream failed before first chunk, retrying",
				"attempt", attempt, "max_attempts", c.maxAttempts,
				"backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				c.emit(ctx, events, Event{Err: ctx.Err()})
				return
			}
		}

		c.log.Error("chat stream failed",
			"attempt", attempt, "chunks", chunks, "error", err)
		c.recordChat(ctx, started, "connect_error")
		c.emit(ctx, events, Event{Err: fmt.Errorf("%w: %v", ErrConnect, err)})
		return
	}
}

// recordChat records one chat round trip on the gateway latency histogram
// and stamps the outcome on the turn's span.
func (c *Client) recordChat(ctx context.Context, started time.Time, status string) {
	trace.SpanFromContext(ctx).SetAttributes(observe.Attr("gateway.status", status))
	c.obs.GatewayRequestDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(
			observe.Attr("endpoint", "chat"),
			observe.Attr("status", status),
		))
}

// streamAttempt performs one chat connection and pumps its events. A nil
// error means the stream terminated cleanly and the done event was emitted;
// non-200 responses and explicit error events surface as ErrServer.
func (c *Client) streamAttempt(ctx context.Context, body []byte, events chan<- Event) (chunks int, err error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/api/voice/chat", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("gateway: building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.chatHTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippet))
		return 0, fmt.Errorf("%w: status %d: %s", ErrServer, resp.StatusCode, snippet)
	}

	// Idle watchdog: cancel the request when no SSE line arrives within the
	// read timeout.
	watchdog := time.AfterFunc(c.readTimeout, cancel)
	defer watchdog.Stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		watchdog.Reset(c.readTimeout)
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
			c.log.Warn("skipping malformed stream event", "error", err, "line", redact(line))
			continue
		}

		switch ev.Type {
		case "stream":
			chunks++
			if !c.emit(ctx, events, Event{Delta: ev.Delta}) {
				return chunks, ctx.Err()
			}
		case "done":
			done := &Done{
				MessageID: ev.MessageID,
				Model:     ev.Model,
				ToolModel: ev.ToolModel,
				Usage:     ev.Usage,
				LatencyMs: ev.LatencyMs,
			}
			c.log.Info("chat stream done",
				"chunks", chunks, "model", done.Model, "gateway_latency_ms", done.LatencyMs)
			c.emit(ctx, events, Event{Done: done})
			return chunks, nil
		case "error":
			return chunks, fmt.Errorf("%w: %s", ErrServer, ev.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return chunks, fmt.Errorf("gateway: reading chat stream: %w", err)
	}
	return chunks, fmt.Errorf("gateway: chat stream ended without done event")
}

// emit delivers one event unless the turn context is gone.
func (c *Client) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
