// Package config provides the configuration schema, loader, environment
// overrides, and LLM provider registry for the toolcaller service.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/toolcaller/internal/mcp"
)

// DefaultPath is the config file read when no -config flag is given. Unlike
// an explicit path, it may be absent.
const DefaultPath = "config.yaml"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Environment selects development or production behaviour (log format,
// error detail).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// IsValid reports whether e is a recognised environment.
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTest:
		return true
	}
	return false
}

// Units is the unit system the weather tool asks the model to prefer.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// IsValid reports whether u is a recognised unit system.
func (u Units) IsValid() bool {
	return u == UnitsMetric || u == UnitsImperial
}

// Config is the root configuration structure.
// It is typically loaded with [LoadWithEnv]; tests use [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Weather   WeatherConfig   `yaml:"weather"`
	News      NewsConfig      `yaml:"news"`
	MCP       MCPConfig       `yaml:"mcp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default:
	// "localhost:3000". The HOST and PORT variables override its parts.
	ListenAddr string `yaml:"listen_addr"`

	// Environment is "development", "production" or "test". Production
	// switches logs to JSON. Default: development.
	Environment Environment `yaml:"environment"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir, when set, is served at "/".
	StaticDir string `yaml:"static_dir"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LLMConfig selects and tunes the chat model used for every turn.
type LLMConfig struct {
	// Provider selects a factory registered in the [Registry] (e.g.
	// "openai", "anthropic", "ollama"). Default: openai.
	Provider string `yaml:"provider"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model. Default for openai: gpt-4-turbo.
	Model string `yaml:"model"`

	// MaxTokens caps completion tokens per round-trip. Default: 4096.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature in [0, 2]; zero leaves the provider default.
	Temperature float64 `yaml:"temperature"`

	// SystemPrompt is sent ahead of the conversation on every round-trip.
	SystemPrompt string `yaml:"system_prompt"`

	// Timeout bounds a single round-trip. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreaker tunes the breaker in front of the provider.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig tunes the LLM circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the breaker.
	// Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ToolsConfig holds settings shared by every tool.
type ToolsConfig struct {
	// Timeout bounds a single tool invocation. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// StatsWindow is the number of recent calls kept per tool for latency
	// percentiles. Default: 100.
	StatsWindow int `yaml:"stats_window"`

	// Disabled lists built-in tools that are not registered.
	Disabled []string `yaml:"disabled"`
}

// WeatherConfig configures the get_weather tool.
type WeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Days is the number of forecast days requested. Default: 3.
	Days int `yaml:"days"`

	// Units is "metric" or "imperial". Default: metric.
	Units Units `yaml:"units"`
}

// NewsConfig configures the search_news tool.
type NewsConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// DefaultCount is the number of articles returned when the model does not
	// ask for a count. Default: 3.
	DefaultCount int `yaml:"default_count"`
}

// MCPConfig holds the list of Model Context Protocol servers whose tools are
// imported at startup.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	// ServiceName is reported on every span and metric. Default: toolcaller.
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of root traces sampled. Zero samples all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = defaultHost + ":" + defaultPort
	}
	if s.Environment == "" {
		s.Environment = EnvDevelopment
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 15 * time.Second
	}

	l := &c.LLM
	if l.Provider == "" {
		l.Provider = "openai"
	}
	if l.Model == "" && l.Provider == "openai" {
		l.Model = "gpt-4-turbo"
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 4096
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	if l.CircuitBreaker.MaxFailures <= 0 {
		l.CircuitBreaker.MaxFailures = 5
	}
	if l.CircuitBreaker.ResetTimeout <= 0 {
		l.CircuitBreaker.ResetTimeout = 30 * time.Second
	}

	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = 30 * time.Second
	}
	if c.Tools.StatsWindow <= 0 {
		c.Tools.StatsWindow = 100
	}
	if c.Weather.Days <= 0 {
		c.Weather.Days = 3
	}
	if c.Weather.Units == "" {
		c.Weather.Units = UnitsMetric
	}
	if c.News.DefaultCount <= 0 {
		c.News.DefaultCount = 3
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "toolcaller"
	}
}
