package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/toolcaller/internal/app"
	"github.com/MrWong99/toolcaller/internal/config"
	"github.com/MrWong99/toolcaller/internal/mcp"
	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/pkg/provider/llm"
	llmmock "github.com/MrWong99/toolcaller/pkg/provider/llm/mock"
)

const baseYAML = `
server:
  listen_addr: "127.0.0.1:0"
llm:
  provider: openai
  model: test-model
  circuit_breaker:
    max_failures: 1
    reset_timeout: 1m
`

// testConfig parses baseYAML plus extra through the real loader so defaults
// and validation apply.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(baseYAML + extra))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config, p llm.Provider, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t))}
	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: p}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func toolNames(a *app.App) []string {
	var names []string
	for _, d := range a.Registry().Declarations() {
		names = append(names, d.Name)
	}
	return names
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_RegistersBuiltinTools(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(t, ""), &llmmock.Provider{})

	if got, want := toolNames(a), []string{"get_weather", "search_news"}; !slices.Equal(got, want) {
		t.Errorf("tools = %v, want %v", got, want)
	}
	if got := a.Registry().Timeout(); got != 30*time.Second {
		t.Errorf("tool timeout = %v, want 30s default", got)
	}
}

func TestNew_DisabledTools(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "tools:\n  disabled: [search_news]\n")
	a := newTestApp(t, cfg, &llmmock.Provider{})

	if got := toolNames(a); !slices.Equal(got, []string{"get_weather"}) {
		t.Errorf("tools = %v, want [get_weather]", got)
	}
}

func TestNew_NoLLMProvider(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(t, ""), &app.Providers{}, app.WithLogger(discardLogger()))
	if err == nil {
		t.Fatal("New without an LLM provider succeeded")
	}
}

func TestNew_UnreachableMCPServerIsSkipped(t *testing.T) {
	t.Parallel()
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	cfg := testConfig(t, "")
	cfg.MCP.Servers = []mcp.ServerConfig{{Name: "gone", Transport: mcp.TransportStreamableHTTP, URL: url}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a, err := app.New(ctx, cfg, &app.Providers{LLM: &llmmock.Provider{}},
		app.WithLogger(discardLogger()), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := toolNames(a); len(got) != 2 {
		t.Errorf("tools = %v, want the builtins only", got)
	}
}

// ─── Handler ─────────────────────────────────────────────────────────────────

func TestApp_ChatThroughHandler(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello there."}}
	cfg := testConfig(t, "")
	cfg.LLM.SystemPrompt = "Be brief."
	a := newTestApp(t, cfg, p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"response":"Hello there."`) {
		t.Errorf("body = %s", rec.Body)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	if calls[0].Req.SystemPrompt != "Be brief." {
		t.Errorf("SystemPrompt = %q", calls[0].Req.SystemPrompt)
	}
	if len(calls[0].Req.Tools) != 2 {
		t.Errorf("tools offered = %d, want 2", len(calls[0].Req.Tools))
	}
}

func TestApp_BreakerOpensAndReadinessFails(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("upstream unavailable")}
	a := newTestApp(t, testConfig(t, ""), p)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	if code := get("/readyz"); code != http.StatusOK {
		t.Fatalf("readyz before failures = %d, want 200", code)
	}

	for range 2 {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`)))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("chat status = %d, want 500", rec.Code)
		}
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("provider calls = %d, want 1 (breaker open after first failure)", n)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("readyz with open breaker = %d, want 503", code)
	}
	if code := get("/health"); code != http.StatusOK {
		t.Errorf("health = %d, want 200 regardless of breaker", code)
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

func TestApp_RunServesUntilCancelled(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig(t, ""), &llmmock.Provider{}, app.WithVersion("1.2.3"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run never became ready")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"version":"1.2.3"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if _, err := http.Get("http://" + a.Addr().String() + "/health"); err == nil {
		t.Error("server still accepting after Shutdown")
	}
}

func TestApp_RunListenError(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer busy.Close()

	cfg := testConfig(t, "")
	cfg.Server.ListenAddr = busy.Addr().String()
	a := newTestApp(t, cfg, &llmmock.Provider{})

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run with an invalid address succeeded")
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

func TestApp_Reload(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	old := testConfig(t, "")
	a := newTestApp(t, old, &llmmock.Provider{}, app.WithLevelVar(level))

	updated := testConfig(t, "tools:\n  timeout: 5s\n")
	updated.Server.LogLevel = config.LogDebug
	a.Reload(old, updated)

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	if got := a.Registry().Timeout(); got != 5*time.Second {
		t.Errorf("tool timeout = %v, want 5s", got)
	}
}
