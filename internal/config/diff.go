package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Log level and tool
// timeout are applied live; everything else needs a restart and is only
// reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ToolTimeoutChanged bool
	NewToolTimeout     time.Duration

	// LLMChanged is true when any field of the llm section differs.
	LLMChanged bool

	// MCPChanged is true when the MCP server list differs.
	MCPChanged bool

	// ToolsChanged is true when weather, news or the disabled list differ.
	ToolsChanged bool
}

// RestartRequired reports whether d contains changes that only take effect
// after a restart.
func (d ConfigDiff) RestartRequired() bool {
	return d.LLMChanged || d.MCPChanged || d.ToolsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Tools.Timeout != new.Tools.Timeout {
		d.ToolTimeoutChanged = true
		d.NewToolTimeout = new.Tools.Timeout
	}

	d.LLMChanged = !reflect.DeepEqual(old.LLM, new.LLM)
	d.MCPChanged = !reflect.DeepEqual(old.MCP, new.MCP)
	d.ToolsChanged = old.Weather != new.Weather ||
		old.News != new.News ||
		!reflect.DeepEqual(old.Tools.Disabled, new.Tools.Disabled)

	return d
}
