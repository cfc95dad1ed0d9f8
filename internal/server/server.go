// Package server exposes the tool-calling turn processor over HTTP.
//
// Routes:
//
//	POST /api/chat      one conversational turn (JSON in, JSON out)
//	GET  /api/chat/ws   a websocket that keeps the conversation per connection
//	GET  /api/tools     registered tool declarations and their rolling stats
//	GET  /health        liveness and version (plus /healthz and /readyz)
//	GET  /metrics       Prometheus scrape endpoint, when configured
//	GET  /              static frontend, when a directory is configured
//
// Every response carries permissive CORS headers; the API is meant to be
// called from a browser frontend served from any origin.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/MrWong99/toolcaller/internal/health"
	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/internal/toolcall"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// maxBodyBytes caps request bodies and websocket messages.
const maxBodyBytes = 1 << 20

// TurnProcessor runs one conversational turn. [*toolcall.Dispatcher]
// satisfies it.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, userMessage string, prior types.Conversation) (*toolcall.Result, error)
}

// ToolCatalog lists the registered tools. [*toolcall.Registry] satisfies it.
type ToolCatalog interface {
	Declarations() []types.ToolDefinition
	Stats() []toolcall.ToolStats
}

// Compile-time assertions.
var (
	_ TurnProcessor = (*toolcall.Dispatcher)(nil)
	_ ToolCatalog   = (*toolcall.Registry)(nil)
)

// Option is a functional option for [New].
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStaticDir serves the files in dir under GET /.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithHealth mounts the health endpoints of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h under GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server routes HTTP requests to the turn processor and tool catalog.
type Server struct {
	turns   TurnProcessor
	catalog ToolCatalog

	log            *slog.Logger
	metrics        *observe.Metrics
	staticDir      string
	health         *health.Handler
	metricsHandler http.Handler

	handler http.Handler
}

// New creates a Server. turns and catalog must be non-nil.
func New(turns TurnProcessor, catalog ToolCatalog, opts ...Option) *Server {
	s := &Server{
		turns:   turns,
		catalog: catalog,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.handler = observe.Middleware(s.metrics)(cors(s.routes()))
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

// toolsResponse is the body of GET /api/tools.
type toolsResponse struct {
	Tools []types.ToolDefinition `json:"tools"`
	Stats []toolcall.ToolStats   `json:"stats"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toolsResponse{
		Tools: s.catalog.Declarations(),
		Stats: s.catalog.Stats(),
	})
}

// cors allows any origin and answers preflight requests directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, traceparent")
		h.Set("Access-Control-Expose-Headers", "X-Turn-ID, X-Correlation-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
