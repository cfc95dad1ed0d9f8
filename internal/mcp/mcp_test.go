package mcp

import "testing"

func TestTransport_IsValid(t *testing.T) {
	t.Parallel()
	for _, tr := range []Transport{TransportStdio, TransportStreamableHTTP} {
		if !tr.IsValid() {
			t.Errorf("%q.IsValid() = false", tr)
		}
	}
	for _, tr := range []Transport{"", "sse", "http"} {
		if tr.IsValid() {
			t.Errorf("%q.IsValid() = true", tr)
		}
	}
}

func TestServerConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{name: "stdio ok", cfg: ServerConfig{Name: "dice", Transport: TransportStdio, Command: "mcp-dice"}},
		{name: "http ok", cfg: ServerConfig{Name: "remote", Transport: TransportStreamableHTTP, URL: "http://x/mcp"}},
		{name: "missing name", cfg: ServerConfig{Transport: TransportStdio, Command: "x"}, wantErr: true},
		{name: "bad transport", cfg: ServerConfig{Name: "x", Transport: "sse"}, wantErr: true},
		{name: "stdio without command", cfg: ServerConfig{Name: "x", Transport: TransportStdio}, wantErr: true},
		{name: "http without url", cfg: ServerConfig{Name: "x", Transport: TransportStreamableHTTP}, wantErr: true},
		{
			name: "oauth incomplete",
			cfg: ServerConfig{Name: "x", Transport: TransportStreamableHTTP, URL: "http://x",
				Auth: &AuthConfig{OAuth: &OAuthConfig{ClientID: "id"}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
