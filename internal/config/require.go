package config

import (
	"fmt"
	"strings"
)

// localProviders run without credentials.
var localProviders = map[string]bool{
	"ollama":    true,
	"llamacpp":  true,
	"llamafile": true,
}

// Setting names a required configuration value and the environment variable
// that can supply it.
type Setting struct {
	Key string
	Env string
}

func (s Setting) String() string {
	if s.Env == "" {
		return s.Key
	}
	return s.Key + " (" + s.Env + ")"
}

// MissingSettingsError lists every required setting that is absent.
type MissingSettingsError struct {
	Missing []Setting
}

func (e *MissingSettingsError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, s := range e.Missing {
		parts[i] = s.String()
	}
	return "config: missing required settings: " + strings.Join(parts, ", ")
}

// Require reports the settings the service cannot start without. It returns
// nil or a *[MissingSettingsError].
func Require(cfg *Config) error {
	var missing []Setting

	provider := cfg.LLM.Provider
	if cfg.LLM.APIKey == "" && !localProviders[provider] {
		env := vendorKeyEnv[provider]
		if env == "" {
			env = "LLM_API_KEY"
		}
		missing = append(missing, Setting{Key: "llm.api_key", Env: env})
	}
	if cfg.LLM.Model == "" {
		missing = append(missing, Setting{Key: "llm.model", Env: "LLM_MODEL"})
	}

	if len(missing) == 0 {
		return nil
	}
	return &MissingSettingsError{Missing: missing}
}

// String renders a one-line summary safe for logs; credentials are reported
// only as set or unset.
func (c *Config) String() string {
	set := func(s string) string {
		if s == "" {
			return "unset"
		}
		return "set"
	}
	return fmt.Sprintf("listen=%s env=%s log=%s llm=%s/%s llm_key=%s weather_key=%s news_key=%s mcp_servers=%d",
		c.Server.ListenAddr, c.Server.Environment, c.Server.LogLevel,
		c.LLM.Provider, c.LLM.Model, set(c.LLM.APIKey),
		set(c.Weather.APIKey), set(c.News.APIKey), len(c.MCP.Servers))
}
