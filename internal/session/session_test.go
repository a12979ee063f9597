package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joi-ai/voiceworker/internal/cache"
	"github.com/joi-ai/voiceworker/internal/gateway"
	"github.com/joi-ai/voiceworker/internal/session"
	"github.com/joi-ai/voiceworker/internal/transcript"
	"github.com/joi-ai/voiceworker/pkg/audio"
	audiomock "github.com/joi-ai/voiceworker/pkg/audio/mock"
	sttmock "github.com/joi-ai/voiceworker/pkg/provider/stt/mock"
	ttsmock "github.com/joi-ai/voiceworker/pkg/provider/tts/mock"
	"github.com/joi-ai/voiceworker/pkg/types"
)

// chatScript is one scripted chat turn: the streamed deltas and the
// messageId carried by the closing done event.
type chatScript struct {
	messageID string
	deltas    []string
}

// gatewayRecorder is a fake JOI gateway: it streams scripted SSE responses
// and captures every report body. Each chat request consumes the next
// scripted turn; the last one repeats once the script runs out.
type gatewayRecorder struct {
	mu     sync.Mutex
	turns  []chatScript
	served int

	chatReqs  chan gateway.ChatRequest
	usageness chan map[string]any
	cacheness chan map[string]any
}

func newGatewayRecorder(messageID string, deltas ...string) *gatewayRecorder {
	return newGatewayScript(chatScript{messageID: messageID, deltas: deltas})
}

func newGatewayScript(turns ...chatScript) *gatewayRecorder {
	return &gatewayRecorder{
		turns:     turns,
		chatReqs:  make(chan gateway.ChatRequest, 4),
		usageness: make(chan map[string]any, 4),
		cacheness: make(chan map[string]any, 4),
	}
}

func (g *gatewayRecorder) nextTurn() chatScript {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.served
	if i >= len(g.turns) {
		i = len(g.turns) - 1
	}
	g.served++
	return g.turns[i]
}

func (g *gatewayRecorder) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/voice/chat", func(w http.ResponseWriter, r *http.Request) {
		var req gateway.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.chatReqs <- req

		turn := g.nextTurn()
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range turn.deltas {
			payload, _ := json.Marshal(map[string]any{"type": "stream", "delta": delta})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		payload, _ := json.Marshal(map[string]any{
			"type": "done", "messageId": turn.messageID, "model": "test-model",
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	})
	mux.HandleFunc("/api/voice/usage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		g.usageness <- body
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/voice/cache-metrics", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		g.cacheness <- body
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// testRig wires a full manager against mocks and a fake gateway.
type testRig struct {
	mgr     *session.Manager
	gw      *gatewayRecorder
	conn    *audiomock.Connection
	sttSess *sttmock.Session
	in      chan audio.AudioFrame
	out     chan audio.AudioFrame
	tts     *ttsmock.Provider
}

func newTestRig(t *testing.T, gw *gatewayRecorder) *testRig {
	t.Helper()

	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)

	in := make(chan audio.AudioFrame, 16)
	out := make(chan audio.AudioFrame, 1024)
	conn := &audiomock.Connection{
		InputStreamsResult: map[string]<-chan audio.AudioFrame{"user-1": in},
		OutputStreamResult: out,
		MetadataResult:     audio.RoomMetadata{Name: "joi-voice-c1"},
	}
	sttSess := sttmock.NewSession()
	ttsProv := &ttsmock.Provider{
		Default: ttsmock.Script{Frames: [][]byte{make([]byte, 4800)}},
	}

	facade := cache.NewTwoTier(cache.NewLocal(512, 64<<20), cache.NewChain())
	keys := cache.NewKeyBuilder("joi:tts:v1", 280, cache.Fingerprint{
		Provider:    ttsProv.Name(),
		Model:       ttsProv.Model(),
		Voice:       ttsProv.Voice(),
		SampleRate:  ttsProv.SampleRate(),
		NumChannels: ttsProv.NumChannels(),
	})

	mgr := session.NewManager(session.ManagerConfig{
		Platform: &audiomock.Platform{ConnectResult: conn},
		STT:      &sttmock.Provider{Session: sttSess},
		TTS:      ttsProv,
		Cache:    facade,
		Keys:     keys,
		Gateway:  gateway.NewClient(srv.URL),
		STTModel: "nova-3",
		Voice: session.VoiceSettings{
			Prompt: "Be concise.",
			Pronunciations: []transcript.Rule{
				{Word: "JOI", Replacement: "Joy"},
			},
		},
	})
	return &testRig{mgr: mgr, gw: gw, conn: conn, sttSess: sttSess, in: in, out: out, tts: ttsProv}
}

func TestManager_TurnRoundTrip(t *testing.T) {
	t.Parallel()

	gw := newGatewayRecorder("msg-1", "Hello ", "there. ")
	rig := newTestRig(t, gw)

	ctx := context.Background()
	if err := rig.mgr.Start(ctx, "joi-voice-c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Simulate the room closing the participant stream on disconnect, so
	// that Stop's wait for the session loop can complete.
	defer func() {
		close(rig.in)
		rig.sttSess.Close()
		rig.mgr.Stop(ctx)
	}()

	info := rig.mgr.Info()
	if info.ConversationID != "c1" || info.AgentID != "personal" {
		t.Errorf("info identity = %s/%s, want c1/personal", info.ConversationID, info.AgentID)
	}
	if !rig.mgr.IsActive() {
		t.Error("IsActive = false after Start")
	}

	// One second of audio, then a committed final.
	rig.in <- audio.AudioFrame{Data: make([]byte, 48000), SampleRate: 24000, Channels: 1}
	waitFor(t, func() bool { return rig.sttSess.SentBytes() >= 48000 }, "audio to reach STT")
	rig.sttSess.FinalsCh <- types.Transcript{Text: "hi there", IsFinal: true}

	usage := recv(t, gw.usageness, "usage report")
	if usage["provider"] != "deepgram" || usage["service"] != "stt" {
		t.Errorf("usage attribution = %v/%v", usage["provider"], usage["service"])
	}
	if usage["conversationId"] != "c1" {
		t.Errorf("usage conversationId = %v, want c1", usage["conversationId"])
	}
	if usage["model"] != "nova-3" {
		t.Errorf("usage model = %v, want nova-3", usage["model"])
	}
	if ms, _ := usage["durationMs"].(float64); ms != 1000 {
		t.Errorf("usage durationMs = %v, want 1000", ms)
	}
	if chars, _ := usage["characters"].(float64); chars != 8 {
		t.Errorf("usage characters = %v, want 8", chars)
	}

	chatReq := recv(t, gw.chatReqs, "chat request")
	if chatReq.Message != "hi there" {
		t.Errorf("chat message = %q, want %q", chatReq.Message, "hi there")
	}
	if chatReq.ConversationID != "c1" || chatReq.AgentID != "personal" {
		t.Errorf("chat identity = %s/%s", chatReq.ConversationID, chatReq.AgentID)
	}

	// The configured voice prompt and pronunciation guide ride along.
	if chatReq.VoicePromptSuffix == "" {
		t.Error("chat request carries no voice prompt suffix")
	}

	// Cache metrics arrive correlated to the chat turn.
	report := recv(t, gw.cacheness, "cache metrics report")
	if report["messageId"] != "msg-1" {
		t.Errorf("report messageId = %v, want msg-1", report["messageId"])
	}
	if report["conversationId"] != "c1" {
		t.Errorf("report conversationId = %v, want c1", report["conversationId"])
	}
	if report["provider"] != "mock" {
		t.Errorf("report provider = %v, want mock", report["provider"])
	}
	metrics, _ := report["metrics"].(map[string]any)
	if metrics == nil {
		t.Fatal("report carries no metrics object")
	}
	if misses, _ := metrics["cacheMisses"].(float64); misses < 1 {
		t.Errorf("cacheMisses = %v, want at least 1", misses)
	}

	// Synthesized audio reached the room, as did a caption.
	waitFor(t, func() bool { return len(rig.out) > 0 }, "audio frames in the room")
	waitFor(t, func() bool { return len(rig.conn.Captions()) > 0 }, "a published caption")
	if caption := rig.conn.Captions()[0]; caption.Text != "Hello there." {
		t.Errorf("caption text = %q, want %q", caption.Text, "Hello there.")
	}
}

func TestManager_SecondStartFails(t *testing.T) {
	t.Parallel()

	gw := newGatewayRecorder("msg-1")
	rig := newTestRig(t, gw)

	ctx := context.Background()
	if err := rig.mgr.Start(ctx, "joi-voice-c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Simulate the room closing the participant stream on disconnect, so
	// that Stop's wait for the session loop can complete.
	defer func() {
		close(rig.in)
		rig.sttSess.Close()
		rig.mgr.Stop(ctx)
	}()

	if err := rig.mgr.Start(ctx, "joi-voice-c2"); err == nil {
		t.Error("second Start did not fail")
	}
}

func TestManager_StopWithoutSessionFails(t *testing.T) {
	t.Parallel()

	gw := newGatewayRecorder("msg-1")
	rig := newTestRig(t, gw)

	if err := rig.mgr.Stop(context.Background()); err == nil {
		t.Error("Stop without an active session did not fail")
	}
}

func TestManager_StopTearsDown(t *testing.T) {
	t.Parallel()

	gw := newGatewayRecorder("msg-1")
	rig := newTestRig(t, gw)

	ctx := context.Background()
	if err := rig.mgr.Start(ctx, "joi-voice-c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate the room closing the participant stream on disconnect.
	rig.conn.DisconnectError = nil
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(rig.in)
		rig.sttSess.Close()
	}()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rig.mgr.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rig.mgr.IsActive() {
		t.Error("IsActive = true after Stop")
	}
	if rig.conn.CallCountDisconnect == 0 {
		t.Error("Stop did not disconnect the room connection")
	}
	if got := rig.mgr.Info(); got != (session.Info{}) {
		t.Errorf("Info after Stop = %+v, want zero value", got)
	}
}

func TestSession_ServerErrorSpeaksApology(t *testing.T) {
	t.Parallel()

	// A gateway whose chat endpoint always fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/voice/chat" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	in := make(chan audio.AudioFrame, 16)
	out := make(chan audio.AudioFrame, 1024)
	conn := &audiomock.Connection{
		InputStreamsResult: map[string]<-chan audio.AudioFrame{"user-1": in},
		OutputStreamResult: out,
		MetadataResult:     audio.RoomMetadata{Name: "joi-voice-c9"},
	}
	sttSess := sttmock.NewSession()
	ttsProv := &ttsmock.Provider{
		Default: ttsmock.Script{Frames: [][]byte{make([]byte, 4800)}},
	}
	mgr := session.NewManager(session.ManagerConfig{
		Platform: &audiomock.Platform{ConnectResult: conn},
		STT:      &sttmock.Provider{Session: sttSess},
		TTS:      ttsProv,
		Gateway:  gateway.NewClient(srv.URL),
	})

	ctx := context.Background()
	if err := mgr.Start(ctx, "joi-voice-c9"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Simulate the room closing the participant stream on disconnect, so
	// that Stop's wait for the session loop can complete.
	defer func() {
		close(in)
		sttSess.Close()
		mgr.Stop(ctx)
	}()

	sttSess.FinalsCh <- types.Transcript{Text: "hello", IsFinal: true}

	// The apology is synthesized and spoken into the room.
	waitFor(t, func() bool {
		for _, text := range ttsProv.Texts() {
			if text == "Sorry, I encountered an error." {
				return true
			}
		}
		return false
	}, "the spoken apology")
}

func TestSession_FailedTurnConsumesPendingDescriptor(t *testing.T) {
	t.Parallel()

	// Turn 1's reply fails synthesis entirely, so its metrics carry no
	// cache data and no report is posted — but its done event queued a
	// descriptor, and that descriptor must still be used up. Turn 2's
	// report must bind to msg-2, not the leftover msg-1.
	gw := newGatewayScript(
		chatScript{messageID: "msg-1", deltas: []string{"Boom. "}},
		chatScript{messageID: "msg-2", deltas: []string{"Fine. "}},
	)
	rig := newTestRig(t, gw)
	rig.tts.Scripts = map[string]ttsmock.Script{
		"Boom.": {StartErr: errors.New("synthesizer offline")},
	}

	ctx := context.Background()
	if err := rig.mgr.Start(ctx, "joi-voice-c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Simulate the room closing the participant stream on disconnect, so
	// that Stop's wait for the session loop can complete.
	defer func() {
		close(rig.in)
		rig.sttSess.Close()
		rig.mgr.Stop(ctx)
	}()

	rig.sttSess.FinalsCh <- types.Transcript{Text: "first thing", IsFinal: true}
	recv(t, gw.chatReqs, "first chat request")
	waitFor(t, func() bool { return rig.tts.CallCount("Boom.") > 0 }, "turn 1 synthesis attempt")

	rig.sttSess.FinalsCh <- types.Transcript{Text: "second thing", IsFinal: true}
	recv(t, gw.chatReqs, "second chat request")

	report := recv(t, gw.cacheness, "cache metrics report")
	if report["messageId"] != "msg-2" {
		t.Errorf("report messageId = %v, want msg-2 (turn 1's descriptor must not leak into turn 2)", report["messageId"])
	}
	metrics, _ := report["metrics"].(map[string]any)
	if metrics == nil {
		t.Fatal("report carries no metrics object")
	}
	if misses, _ := metrics["cacheMisses"].(float64); misses < 1 {
		t.Errorf("cacheMisses = %v, want at least 1", misses)
	}

	// The empty turn produced no report of its own.
	select {
	case extra := <-gw.cacheness:
		t.Errorf("unexpected second cache report: %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
