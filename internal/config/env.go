package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// EnvLookup has the signature of [os.LookupEnv].
type EnvLookup func(key string) (string, bool)

const (
	defaultHost = "localhost"
	defaultPort = "3000"
)

// vendorKeyEnv names the API key variable consulted for each hosted provider
// when llm.api_key is empty.
var vendorKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"groq":      "GROQ_API_KEY",
}

// ApplyEnv overrides cfg with values from the environment. Variables that are
// unset or empty leave the file value in place. Unparseable numbers and
// durations are reported together.
func ApplyEnv(cfg *Config, lookup EnvLookup) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	// Server
	host, port := defaultHost, defaultPort
	if cfg.Server.ListenAddr != "" {
		if h, p, err := net.SplitHostPort(cfg.Server.ListenAddr); err == nil {
			host, port = h, p
		}
	}
	_, hostSet := get("HOST")
	_, portSet := get("PORT")
	if hostSet || portSet {
		setString("HOST", &host)
		setString("PORT", &port)
		if _, err := strconv.Atoi(port); err != nil {
			errs = append(errs, fmt.Errorf("PORT: %q is not a port number", port))
		}
		cfg.Server.ListenAddr = net.JoinHostPort(host, port)
	}
	if v, ok := get("NODE_ENV"); ok {
		cfg.Server.Environment = Environment(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}

	// LLM
	setString("LLM_PROVIDER", &cfg.LLM.Provider)
	provider := cfg.LLM.Provider
	if provider == "" {
		provider = "openai"
	}
	if provider == "openai" {
		setString("OPENAI_MODEL", &cfg.LLM.Model)
		setString("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIKey == "" {
		if key, ok := vendorKeyEnv[provider]; ok {
			setString(key, &cfg.LLM.APIKey)
		}
	}
	setString("LLM_API_KEY", &cfg.LLM.APIKey)
	setString("LLM_MODEL", &cfg.LLM.Model)
	setString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	setInt("MAX_TOKENS", &cfg.LLM.MaxTokens)
	setDuration("LLM_TIMEOUT", &cfg.LLM.Timeout)

	// Tools
	setDuration("TOOL_TIMEOUT", &cfg.Tools.Timeout)
	setString("WEATHER_API_KEY", &cfg.Weather.APIKey)
	if v, ok := get("WEATHER_UNITS"); ok {
		cfg.Weather.Units = Units(v)
	}
	setString("NEWS_API_KEY", &cfg.News.APIKey)
	setInt("NEWS_DEFAULT_COUNT", &cfg.News.DefaultCount)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}
