// Package mcphost connects to Model Context Protocol servers and imports their
// tools into a [toolcall.Registry].
//
// It uses the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk)
// over stdio or streamable-HTTP transports. Each imported tool is registered
// with the source "mcp:<server>" and a handler that forwards the call to the
// server session.
//
// Typical usage:
//
//	h := mcphost.New(registry)
//	defer h.Close()
//
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "dice",
//	    Transport: mcp.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-dice-server",
//	})
package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/toolcaller/internal/mcp"
	"github.com/MrWong99/toolcaller/internal/toolcall"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// Option configures a [Host].
type Option func(*Host)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// Host owns the MCP client sessions whose tools live in a registry.
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // key: server name

	// client is reused across all server connections. The SDK allows a single
	// Client to manage multiple sessions concurrently.
	client   *mcpsdk.Client
	registry *toolcall.Registry
	logger   *slog.Logger
}

// New creates a Host that imports tools into reg.
func New(reg *toolcall.Registry, opts ...Option) *Host {
	h := &Host{
		sessions: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "toolcaller", Version: "1.0.0"},
			nil,
		),
		registry: reg,
	}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterAll connects to every server concurrently. Servers that fail are
// reported in the joined error; the others stay registered.
func (h *Host) RegisterAll(ctx context.Context, cfgs []mcp.ServerConfig) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, cfg := range cfgs {
		g.Go(func() error {
			if err := h.RegisterServer(ctx, cfg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same name is already connected, its
// session is closed and its tools are replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		// The subprocess outlives ctx, which only bounds the handshake.
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		transport = &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient(cfg.Auth),
		}
	}

	return h.Connect(ctx, cfg.Name, transport)
}

// Connect opens a session over transport and imports the server's tools under
// the given server name.
func (h *Host) Connect(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: failed to connect to server %q: %w", name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: failed to list tools for server %q: %w", name, err)
		}
		discovered = append(discovered, tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	source := toolcall.MCPSource(name)
	if old, ok := h.sessions[name]; ok {
		_ = old.Close()
		h.registry.UnregisterSource(source)
	}
	h.sessions[name] = session

	imported := 0
	for _, tool := range discovered {
		if _, owner, exists := h.registry.Lookup(tool.Name); exists && owner != source {
			h.logger.Warn("mcp tool shadows an existing tool, skipping",
				"server", name, "tool", tool.Name, "existing_source", owner)
			continue
		}
		def := types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		}
		if err := h.registry.RegisterDefinition(def, &remoteTool{session: session, name: tool.Name}, source); err != nil {
			h.logger.Warn("mcp tool rejected", "server", name, "tool", tool.Name, "err", err)
			continue
		}
		imported++
	}
	h.logger.Info("mcp server connected", "server", name, "tools", imported)
	return nil
}

// Servers returns the names of the connected servers.
func (h *Host) Servers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sessions))
	for name := range h.sessions {
		out = append(out, name)
	}
	return out
}

// Close shuts down all server sessions and removes their tools from the
// registry. After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, session := range h.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: error closing server %q: %w", name, err))
		}
		h.registry.UnregisterSource(toolcall.MCPSource(name))
		delete(h.sessions, name)
	}
	return errors.Join(errs...)
}

// remoteTool forwards calls to a tool on an MCP server session.
type remoteTool struct {
	session *mcpsdk.ClientSession
	name    string
}

var _ toolcall.Handler = (*remoteTool)(nil)

// Invoke calls the tool and returns its text content, decoded as JSON when
// the text is valid JSON. An isError result becomes a
// [toolcall.ErrorResult]; transport failures are returned as errors.
func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call to tool %q failed: %w", t.name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()

	if res.IsError {
		return toolcall.ErrorResult{Error: text}, nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	return text, nil
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
