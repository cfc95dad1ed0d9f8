// Package app wires all toolcaller subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the tool registry,
// connects MCP servers, wraps the LLM provider and builds the HTTP server;
// Run serves requests until the context is cancelled; Shutdown drains
// in-flight requests and tears everything down in order.
//
// For testing, inject doubles via [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/toolcaller/internal/config"
	"github.com/MrWong99/toolcaller/internal/health"
	"github.com/MrWong99/toolcaller/internal/mcp/mcphost"
	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/internal/resilience"
	"github.com/MrWong99/toolcaller/internal/server"
	"github.com/MrWong99/toolcaller/internal/toolcall"
	"github.com/MrWong99/toolcaller/internal/tools"
	"github.com/MrWong99/toolcaller/internal/tools/news"
	"github.com/MrWong99/toolcaller/internal/tools/weather"
	"github.com/MrWong99/toolcaller/pkg/provider/llm"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	log            *slog.Logger
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	watcher        *config.Watcher
	version        string

	// Subsystems, initialised in New and torn down in Shutdown.
	registry   *toolcall.Registry
	mcpHost    *mcphost.Host
	llm        *resilience.GuardedProvider
	dispatcher *toolcall.Dispatcher
	health     *health.Handler
	server     *server.Server
	httpServer *http.Server

	mu       sync.Mutex
	addr     net.Addr
	ready    chan struct{}
	stopOnce sync.Once

	// closers are called in order during Shutdown.
	closers []func() error
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level of the handler that
// was built with v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h under GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithWatcher runs w alongside the HTTP server. Its change callback should
// call [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithVersion sets the version reported by /health. Default: "dev".
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already have
// defaults applied and be validated.
//
// MCP servers that cannot be reached are logged and skipped; the application
// starts with the tools that are available.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		version:   "dev",
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: no llm provider configured")
	}

	// ── 1. Tool registry ─────────────────────────────────────────────────
	a.registry = toolcall.NewRegistry(
		toolcall.WithToolTimeout(cfg.Tools.Timeout),
		toolcall.WithWindowSize(cfg.Tools.StatsWindow),
		toolcall.WithRegistryMetrics(a.metrics),
		toolcall.WithRegistryLogger(a.log),
	)
	if err := a.initTools(); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 2. MCP servers ───────────────────────────────────────────────────
	a.initMCP(ctx)

	// ── 3. LLM + dispatcher ──────────────────────────────────────────────
	a.initLLM()

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTools registers the built-in tools that are not disabled.
func (a *App) initTools() error {
	builtin := []tools.Tool{
		weather.Tool(weather.Config{
			APIKey:  a.cfg.Weather.APIKey,
			BaseURL: a.cfg.Weather.BaseURL,
			Days:    a.cfg.Weather.Days,
			Units:   string(a.cfg.Weather.Units),
		}),
		news.Tool(news.Config{
			APIKey:       a.cfg.News.APIKey,
			BaseURL:      a.cfg.News.BaseURL,
			DefaultCount: a.cfg.News.DefaultCount,
		}),
	}

	var enabled []tools.Tool
	for _, t := range builtin {
		if slices.Contains(a.cfg.Tools.Disabled, t.Definition.Name) {
			a.log.Info("builtin tool disabled", "tool", t.Definition.Name)
			continue
		}
		enabled = append(enabled, t)
	}
	return tools.Register(a.registry, enabled...)
}

// initMCP connects the configured MCP servers and imports their tools.
func (a *App) initMCP(ctx context.Context) {
	a.mcpHost = mcphost.New(a.registry, mcphost.WithLogger(a.log))
	a.closers = append(a.closers, a.mcpHost.Close)

	if len(a.cfg.MCP.Servers) == 0 {
		return
	}
	if err := a.mcpHost.RegisterAll(ctx, a.cfg.MCP.Servers); err != nil {
		a.log.Warn("some MCP servers could not be registered", "err", err)
	}
	a.log.Info("MCP servers registered", "servers", a.mcpHost.Servers(), "tools", a.registry.Len())
}

// initLLM wraps the provider in a circuit breaker and builds the dispatcher.
func (a *App) initLLM() {
	cb := a.cfg.LLM.CircuitBreaker
	a.llm = resilience.NewGuardedProvider(a.providers.LLM, resilience.CircuitBreakerConfig{
		Name:         "llm/" + a.cfg.LLM.Provider,
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		Logger:       a.log,
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})

	a.dispatcher = toolcall.NewDispatcher(a.llm, a.registry,
		toolcall.WithLogger(a.log),
		toolcall.WithMetrics(a.metrics),
		toolcall.WithRoundTripTimeout(a.cfg.LLM.Timeout),
		toolcall.WithTemperature(a.cfg.LLM.Temperature),
		toolcall.WithMaxTokens(a.cfg.LLM.MaxTokens),
		toolcall.WithSystemPrompt(a.cfg.LLM.SystemPrompt),
		toolcall.WithProviderName(a.cfg.LLM.Provider),
	)
}

// initHTTP builds the health checks, the API server and the listener config.
func (a *App) initHTTP() {
	a.health = health.New(
		health.WithVersion(a.version),
		health.WithCheckers(
			health.Checker{Name: "llm", Check: a.llm.Check},
			health.Checker{Name: "tools", Check: a.checkTools},
		),
	)

	opts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
		server.WithStaticDir(a.cfg.Server.StaticDir),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.server = server.New(a.dispatcher, a.registry, opts...)

	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
}

func (a *App) checkTools(context.Context) error {
	if a.registry.Len() == 0 {
		return errors.New("no tools registered")
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.server }

// Registry returns the tool registry.
func (a *App) Registry() *toolcall.Registry { return a.registry }

// Dispatcher returns the turn processor.
func (a *App) Dispatcher() *toolcall.Dispatcher { return a.dispatcher }

// Ready is closed once Run is accepting connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listen address, or nil before [App.Ready] fires.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled or
// the server fails. The config watcher, if any, runs alongside. Run returns
// nil on cancellation; call [App.Shutdown] afterwards to drain connections.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.ready)

	a.log.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	// A nil channel blocks forever when no watcher is configured.
	var watchErr chan error
	if a.watcher != nil {
		watchErr = make(chan error, 1)
		go func() { watchErr <- a.watcher.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case err := <-watchErr:
		return fmt.Errorf("app: config watcher: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the live-reloadable parts of a config change: log level and
// tool timeout. Other changes are logged as requiring a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ToolTimeoutChanged {
		a.registry.SetTimeout(d.NewToolTimeout)
		a.log.Info("tool timeout changed", "timeout", d.NewToolTimeout)
	}
	if d.RestartRequired() {
		a.log.Warn("config change requires a restart to take effect",
			"llm", d.LLMChanged,
			"mcp", d.MCPChanged,
			"tools", d.ToolsChanged,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains in-flight HTTP requests and then closes the remaining
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
