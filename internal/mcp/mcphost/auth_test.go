package mcphost

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/toolcaller/internal/mcp"
)

func authEcho(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, c *http.Client, url string) string {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var buf [256]byte
	n, _ := resp.Body.Read(buf[:])
	return string(buf[:n])
}

func TestHTTPClient_NoAuth(t *testing.T) {
	t.Parallel()
	srv := authEcho(t)
	if got := get(t, httpClient(nil), srv.URL); got != "" {
		t.Errorf("Authorization = %q, want empty", got)
	}
}

func TestHTTPClient_StaticToken(t *testing.T) {
	t.Parallel()
	srv := authEcho(t)
	c := httpClient(&mcp.AuthConfig{Token: "s3cret"})
	if got := get(t, c, srv.URL); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q, want Bearer s3cret", got)
	}
}

func TestHTTPClient_OAuthClientCredentials(t *testing.T) {
	t.Parallel()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(tokenSrv.Close)
	srv := authEcho(t)

	c := httpClient(&mcp.AuthConfig{
		Token: "ignored",
		OAuth: &mcp.OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL},
	})
	if got := get(t, c, srv.URL); got != "Bearer issued-token" {
		t.Errorf("Authorization = %q, want Bearer issued-token", got)
	}
}
