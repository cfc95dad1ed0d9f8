// Package mcp describes connections to Model Context Protocol servers whose
// tools are imported into the tool registry alongside the built-in tools.
//
// The concrete client lives in [github.com/MrWong99/toolcaller/internal/mcp/mcphost].
package mcp

import "fmt"

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is a unique identifier for this server. Tools imported from it
	// report the source "mcp:<Name>".
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http.
	// Example: "/usr/local/bin/mcp-server --config /etc/mcp.json"
	Command string `yaml:"command"`

	// URL is the endpoint used when Transport is "streamable-http".
	// Example: "https://tools.example.com/mcp"
	URL string `yaml:"url"`

	// Auth configures authentication for streamable-http servers. When nil,
	// requests are sent without authentication.
	Auth *AuthConfig `yaml:"auth"`

	// Env holds additional environment variables injected into the server
	// process when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// AuthConfig configures Bearer authentication for HTTP-based MCP servers.
type AuthConfig struct {
	// Token is a static Bearer token. Ignored when OAuth is set.
	Token string `yaml:"token"`

	// OAuth obtains tokens with the client-credentials flow.
	OAuth *OAuthConfig `yaml:"oauth"`
}

// OAuthConfig configures the OAuth 2.1 client-credentials flow.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Validate checks that cfg is complete for its transport.
func (cfg ServerConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		if a := cfg.Auth; a != nil && a.OAuth != nil && (a.OAuth.ClientID == "" || a.OAuth.TokenURL == "") {
			return fmt.Errorf("mcp: server %q oauth requires client_id and token_url", cfg.Name)
		}
	}
	return nil
}
