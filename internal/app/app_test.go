package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/joi-ai/voiceworker/internal/app"
	"github.com/joi-ai/voiceworker/internal/config"
	"github.com/joi-ai/voiceworker/internal/observe"
	"github.com/joi-ai/voiceworker/pkg/audio"
	audiomock "github.com/joi-ai/voiceworker/pkg/audio/mock"
	sttmock "github.com/joi-ai/voiceworker/pkg/provider/stt/mock"
	ttsmock "github.com/joi-ai/voiceworker/pkg/provider/tts/mock"
)

// testConfig returns a config pointing at the given gateway, without a room
// to auto-join and without caching.
func testConfig(gatewayURL string) *config.Config {
	cfg := config.Default()
	cfg.Gateway.URL = gatewayURL
	cfg.Cache.Enabled = false
	return cfg
}

func testProviders() *app.Providers {
	out := make(chan audio.AudioFrame, 64)
	conn := &audiomock.Connection{OutputStreamResult: out}
	return &app.Providers{
		STT:   &sttmock.Provider{},
		TTS:   &ttsmock.Provider{},
		Audio: &audiomock.Platform{ConnectResult: conn},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("create metrics: %v", err)
	}
	return m
}

// startApp builds an App on a loopback listener and runs it until cleanup.
func startApp(t *testing.T, cfg *config.Config) (*app.App, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a, err := app.New(context.Background(), cfg, "", testProviders(),
		app.WithMetrics(testMetrics(t)),
		app.WithListener(ln),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after shutdown")
		}
	})

	return a, "http://" + ln.Addr().String()
}

// waitReachable polls url until the server responds or the deadline passes.
func waitReachable(t *testing.T, url string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s never became reachable", url)
	return nil
}

func TestApp_HealthzServed(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	_, base := startApp(t, testConfig(gw.URL))

	resp := waitReachable(t, base+"/healthz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestApp_ReadyzChecksGateway(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	_, base := startApp(t, testConfig(gw.URL))

	resp := waitReachable(t, base+"/readyz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200 with a live gateway", resp.StatusCode)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["gateway"] != "ok" {
		t.Errorf("gateway check = %q, want ok", body.Checks["gateway"])
	}
}

func TestApp_ReadyzFailsWhenGatewayDown(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	gw.Close() // nothing listens any more

	_, base := startApp(t, testConfig(gw.URL))

	resp := waitReachable(t, base+"/readyz")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503 with the gateway down", resp.StatusCode)
	}
}

func TestApp_MetricsServed(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	_, base := startApp(t, testConfig(gw.URL))

	resp := waitReachable(t, base+"/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestApp_JoinsConfiguredRoom(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	cfg := testConfig(gw.URL)
	cfg.Room.URL = "ws://media.local"
	cfg.Room.Name = "joi-voice-room-1"

	a, _ := startApp(t, cfg)

	// Run joins the room in its own goroutine; poll until it has.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !a.Manager().IsActive() {
		time.Sleep(20 * time.Millisecond)
	}
	if !a.Manager().IsActive() {
		t.Error("manager should have an active session after Run")
	}
	if got := a.Manager().Info().RoomName; got != "joi-voice-room-1" {
		t.Errorf("room name = %q, want joi-voice-room-1", got)
	}
}

func TestApp_ShutdownStopsSession(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	cfg := testConfig(gw.URL)
	cfg.Room.URL = "ws://media.local"
	cfg.Room.Name = "joi-voice-room-2"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, err := app.New(context.Background(), cfg, "", testProviders(),
		app.WithMetrics(testMetrics(t)),
		app.WithListener(ln),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Run joins the room in its own goroutine; poll until it has before
	// shutting down.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !a.Manager().IsActive() {
		time.Sleep(20 * time.Millisecond)
	}
	if !a.Manager().IsActive() {
		t.Fatal("manager should have an active session after Run")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
	if a.Manager().IsActive() {
		t.Error("session should be stopped after Shutdown")
	}
}

func TestApp_ReloadAppliesLogLevel(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gw.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(prompt, level string) {
		body := fmt.Sprintf("server:\n  log_level: %s\ngateway:\n  url: %s\nvoice:\n  prompt: %q\n",
			level, gw.URL, prompt)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("Be concise.", "info")

	var lvl slog.LevelVar
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, err := app.New(context.Background(), testConfig(gw.URL), path, testProviders(),
		app.WithMetrics(testMetrics(t)),
		app.WithListener(ln),
		app.WithLogLevelVar(&lvl),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()

	write("Be warm.", "debug")
	// Push the mtime forward so the watcher's change detection fires even on
	// filesystems with coarse timestamps.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	a.ReloadConfig()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if lvl.Level() == slog.LevelDebug {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if lvl.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug after reload", lvl.Level())
	}
}
