// Command toolcaller serves an LLM chat API that lets the model call tools
// (weather, news and any tools imported from MCP servers) before answering.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/toolcaller/internal/app"
	"github.com/MrWong99/toolcaller/internal/config"
	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/pkg/provider/llm"
	"github.com/MrWong99/toolcaller/pkg/provider/llm/anyllm"
	"github.com/MrWong99/toolcaller/pkg/provider/llm/openai"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// Only the default path may be absent; an explicit -config must exist.
	allowMissing := *configPath == config.DefaultPath
	cfg, err := config.LoadWithEnv(*configPath, os.LookupEnv, allowMissing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolcaller: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := newLogger(cfg.Server.Environment, level)
	slog.SetDefault(logger)

	if err := config.Require(cfg); err != nil {
		var missing *config.MissingSettingsError
		if errors.As(err, &missing) {
			for _, s := range missing.Missing {
				slog.Error("missing required setting", "setting", s.Key, "env", s.Env)
			}
		}
		slog.Error("cannot start", "err", err)
		return 1
	}

	slog.Info("toolcaller starting",
		"config", *configPath,
		"version", version,
		"summary", cfg.String(),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.LLM.Provider, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// ── Config watcher (only when a file exists to watch) ─────────────────────
	var application *app.App
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetricsHandler(promhttp.Handler()),
		app.WithVersion(version),
	}
	if _, err := os.Stat(*configPath); err == nil {
		w, err := config.NewWatcher(*configPath,
			func(old, new *config.Config) { application.Reload(old, new) },
			config.WithEnv(os.LookupEnv),
			config.WithWatcherLogger(logger),
		)
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, &app.Providers{LLM: provider}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM factories into reg. OpenAI
// uses the native SDK; every other backend goes through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []openai.Option
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		if org := optString(c.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if c.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(c.Timeout))
		}
		p, err := openai.New(c.APIKey, c.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile and
	// ollama share the same pattern: optional APIKey + optional BaseURL.
	for _, name := range anyllm.SupportedProviders {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(c config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if c.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(c.APIKey))
			}
			if c.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
			}
			p, err := anyllm.New(name, c.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       toolcaller — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	printRow("Weather key", setOrUnset(cfg.Weather.APIKey))
	printRow("News key", setOrUnset(cfg.News.APIKey))
	printRow("MCP servers", fmt.Sprint(len(cfg.MCP.Servers)))
	printRow("Tool timeout", cfg.Tools.Timeout.String())
	printRow("Environment", string(cfg.Server.Environment))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Printf("║  %-14s  : %-19s ║\n", label, fitCell(value, 19))
}

// fitCell shortens value to at most width runes, marking the cut with "…".
func fitCell(value string, width int) string {
	r := []rune(value)
	if len(r) <= width {
		return value
	}
	return string(r[:width-1]) + "…"
}

func setOrUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "set"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger logs JSON in production and text otherwise. level may be changed
// at runtime by config reloads.
func newLogger(env config.Environment, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if env == config.EnvProduction {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from an Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
