package mcphost

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/MrWong99/toolcaller/internal/mcp"
)

// httpClient builds the client for a streamable-http server. OAuth takes
// precedence over a static token.
func httpClient(auth *mcp.AuthConfig) *http.Client {
	base := otelhttp.NewTransport(http.DefaultTransport)

	switch {
	case auth == nil:
		return &http.Client{Transport: base}

	case auth.OAuth != nil:
		cc := &clientcredentials.Config{
			ClientID:     auth.OAuth.ClientID,
			ClientSecret: auth.OAuth.ClientSecret,
			TokenURL:     auth.OAuth.TokenURL,
			Scopes:       auth.OAuth.Scopes,
		}
		// Token requests go through the instrumented transport too.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
		return cc.Client(ctx)

	case auth.Token != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token, TokenType: "Bearer"})
		return &http.Client{Transport: &oauth2.Transport{Source: src, Base: base}}
	}
	return &http.Client{Transport: base}
}
