package mcphost

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/toolcaller/internal/mcp"
	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/internal/toolcall"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

// newTestServer returns an in-memory MCP server exposing "add", "shout" and
// "fail" tools, and the client end of its transport.
func newTestServer(t *testing.T) mcpsdk.Transport {
	t.Helper()
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "v0.0.1"}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: "add", Description: "Add two integers"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in addArgs) (*mcpsdk.CallToolResult, any, error) {
			out, _ := json.Marshal(map[string]int{"sum": in.A + in.B})
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(out)}}}, nil, nil
		})
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: "shout", Description: "Plain text output"},
		func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "HELLO"}}}, nil, nil
		})
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: "fail", Description: "Always errors"},
		func(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "dice fell off the table"}},
			}, nil, nil
		})

	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(context.Background(), serverT, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	return clientT
}

func newTestHost(t *testing.T) (*Host, *toolcall.Registry) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := toolcall.NewRegistry(toolcall.WithRegistryMetrics(m), toolcall.WithRegistryLogger(logger))
	h := New(reg, WithLogger(logger))
	t.Cleanup(func() { _ = h.Close() })
	return h, reg
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestConnect_ImportsTools(t *testing.T) {
	t.Parallel()
	h, reg := newTestHost(t)

	if err := h.Connect(context.Background(), "math", newTestServer(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	def, source, ok := reg.Lookup("add")
	if !ok {
		t.Fatal("add not imported")
	}
	if source != "mcp:math" {
		t.Errorf("source = %q, want mcp:math", source)
	}
	if def.Description != "Add two integers" {
		t.Errorf("description = %q", def.Description)
	}
	props, _ := def.Parameters["properties"].(map[string]any)
	if _, ok := props["a"]; !ok {
		t.Errorf("input schema missing property a: %v", def.Parameters)
	}
	if got := h.Servers(); !slices.Equal(got, []string{"math"}) {
		t.Errorf("Servers() = %v", got)
	}
}

func TestRemoteTool_JSONResult(t *testing.T) {
	t.Parallel()
	h, reg := newTestHost(t)
	if err := h.Connect(context.Background(), "math", newTestServer(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res := reg.Dispatch(context.Background(), "add", map[string]any{"a": float64(2), "b": float64(3)})
	raw, ok := res.(json.RawMessage)
	if !ok {
		t.Fatalf("result = %T (%v), want json.RawMessage", res, res)
	}
	if string(raw) != `{"sum":5}` {
		t.Errorf("result = %s, want {\"sum\":5}", raw)
	}
}

func TestRemoteTool_TextAndErrorResults(t *testing.T) {
	t.Parallel()
	h, reg := newTestHost(t)
	if err := h.Connect(context.Background(), "misc", newTestServer(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := reg.Dispatch(context.Background(), "shout", map[string]any{}); got != "HELLO" {
		t.Errorf("shout = %#v, want \"HELLO\"", got)
	}
	got := reg.Dispatch(context.Background(), "fail", map[string]any{})
	if got != (toolcall.ErrorResult{Error: "dice fell off the table"}) {
		t.Errorf("fail = %#v, want ErrorResult", got)
	}
}

func TestConnect_ReplacesServerTools(t *testing.T) {
	t.Parallel()
	h, reg := newTestHost(t)
	ctx := context.Background()

	if err := h.Connect(ctx, "math", newTestServer(t)); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	first := reg.Len()
	if err := h.Connect(ctx, "math", newTestServer(t)); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if reg.Len() != first {
		t.Errorf("Len after reconnect = %d, want %d", reg.Len(), first)
	}
	if res := reg.Dispatch(ctx, "add", map[string]any{"a": float64(1), "b": float64(1)}); string(res.(json.RawMessage)) != `{"sum":2}` {
		t.Errorf("add after reconnect = %v", res)
	}
}

func TestConnect_DoesNotShadowBuiltins(t *testing.T) {
	t.Parallel()
	h, reg := newTestHost(t)
	_ = reg.Register("add", "builtin add", nil, toolcall.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return "builtin", nil
	}))

	if err := h.Connect(context.Background(), "math", newTestServer(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, source, _ := reg.Lookup("add"); source != toolcall.SourceBuiltin {
		t.Errorf("add source = %q, want builtin", source)
	}
	if _, _, ok := reg.Lookup("shout"); !ok {
		t.Error("non-conflicting tool not imported")
	}
}

func TestClose_RemovesTools(t *testing.T) {
	t.Parallel()
	h, reg := newTestHost(t)
	if err := h.Connect(context.Background(), "math", newTestServer(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", reg.Len())
	}
	if len(h.Servers()) != 0 {
		t.Errorf("Servers after Close = %v", h.Servers())
	}
}

func TestRegisterServer_InvalidConfig(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	err := h.RegisterServer(context.Background(), mcp.ServerConfig{Name: "x", Transport: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestRegisterAll_JoinsFailures(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	err := h.RegisterAll(context.Background(), []mcp.ServerConfig{
		{Name: "a", Transport: mcp.TransportStdio},
		{Name: "b", Transport: mcp.TransportStreamableHTTP},
	})
	if err == nil {
		t.Fatal("expected joined error")
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	exe, args := splitCommand("  /bin/foo --bar   baz ")
	if exe != "/bin/foo" || !slices.Equal(args, []string{"--bar", "baz"}) {
		t.Errorf("splitCommand = %q %q", exe, args)
	}
	if exe, _ := splitCommand(""); exe != "" {
		t.Errorf("splitCommand(\"\") = %q", exe)
	}
}

func TestSchemaToMap(t *testing.T) {
	t.Parallel()
	if m := schemaToMap(nil); m["type"] != "object" {
		t.Errorf("nil schema = %v", m)
	}
	type s struct {
		Type string `json:"type"`
	}
	if m := schemaToMap(s{Type: "object"}); m["type"] != "object" {
		t.Errorf("struct schema = %v", m)
	}
}
