// Package toolcall implements the tool-calling orchestration core: a
// [Registry] of named tools with their JSON-schema declarations and handlers,
// and a [Dispatcher] that drives one conversational turn through the LLM,
// executes any tool calls the model requests, and obtains a final answer.
//
// Tool failures never abort a turn. They are converted to {"error": "..."}
// payloads that the model sees in the following round-trip. Only failures to
// talk to the LLM are surfaced to the caller, as a *[Error] with kind
// [KindLLMRequestFailed] or [KindTimeout].
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// SourceBuiltin marks tools implemented in-process.
const SourceBuiltin = "builtin"

// MCPSource returns the source label of tools imported from the named MCP server.
func MCPSource(server string) string { return "mcp:" + server }

// Handler executes a tool. args is the decoded argument object of the call.
// The returned value must be JSON-encodable. Handlers should report expected
// failures (bad input, upstream errors) as a structured result and reserve the
// error return for failures they cannot describe.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to [Handler].
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Invoke calls f(ctx, args).
func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// ErrorResult is the payload returned to the model when a tool call fails.
type ErrorResult struct {
	Error string `json:"error"`
}

// entry holds everything known about one registered tool.
type entry struct {
	def     types.ToolDefinition
	handler Handler
	source  string
	window  *rollingWindow
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithToolTimeout sets the deadline applied to each tool invocation. Zero
// disables the deadline.
func WithToolTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout.Store(int64(d))
	}
}

// WithWindowSize sets how many recent calls per tool feed [Registry.Stats].
func WithWindowSize(n int) RegistryOption {
	return func(r *Registry) {
		r.windowSize = n
	}
}

// WithRegistryMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithRegistryMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithRegistryLogger sets the logger. Defaults to [slog.Default].
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// Registry maps tool names to declarations and handlers. Declarations are
// kept in registration order.
//
// Registration is expected at startup, but all methods are safe for
// concurrent use so that MCP servers can be (re)imported while turns run.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry

	timeout    atomic.Int64 // time.Duration
	windowSize int
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register stores a builtin tool. See [Registry.RegisterDefinition].
func (r *Registry) Register(name, description string, params map[string]any, h Handler) error {
	return r.RegisterDefinition(types.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  params,
	}, h, SourceBuiltin)
}

// RegisterDefinition stores def and h under def.Name. A prior registration
// under the same name is replaced but keeps its position in
// [Registry.Declarations]. The parameter schema is not validated; the LLM
// endpoint rejects malformed schemas.
func (r *Registry) RegisterDefinition(def types.ToolDefinition, h Handler, source string) error {
	if def.Name == "" {
		return errors.New("toolcall: tool name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("toolcall: nil handler for tool %q", def.Name)
	}
	if source == "" {
		source = SourceBuiltin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[def.Name]; !ok {
		r.order = append(r.order, def.Name)
	} else {
		r.logger.Info("tool re-registered", "tool", def.Name, "source", source)
	}
	r.entries[def.Name] = &entry{
		def:     def,
		handler: h,
		source:  source,
		window:  newRollingWindow(r.windowSize),
	}
	return nil
}

// Unregister removes the named tool. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

// UnregisterSource removes every tool registered with source and returns how
// many were removed.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, name := range r.order {
		if r.entries[name].source == source {
			names = append(names, name)
		}
	}
	for _, name := range names {
		r.removeLocked(name)
	}
	return len(names)
}

// removeLocked must be called with r.mu held for writing.
func (r *Registry) removeLocked(name string) bool {
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Declarations returns all tool declarations in registration order. The
// Parameters maps are shared with the registry and must not be modified.
func (r *Registry) Declarations() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

// Lookup returns the declaration and source of the named tool.
func (r *Registry) Lookup(name string) (def types.ToolDefinition, source string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return types.ToolDefinition{}, "", false
	}
	return e.def, e.source, true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Stats returns recent call statistics for every tool in registration order.
func (r *Registry) Stats() []ToolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolStats, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		calls, errs := e.window.Totals()
		out = append(out, ToolStats{
			Name:      name,
			Source:    e.source,
			Calls:     calls,
			Errors:    errs,
			P50Ms:     e.window.P50(),
			P99Ms:     e.window.P99(),
			ErrorRate: e.window.ErrorRate(),
		})
	}
	return out
}

// SetTimeout changes the per-invocation tool deadline. Safe to call while
// tools are running; in-flight calls keep their original deadline.
func (r *Registry) SetTimeout(d time.Duration) {
	r.timeout.Store(int64(d))
}

// Timeout returns the current per-invocation tool deadline.
func (r *Registry) Timeout() time.Duration {
	return time.Duration(r.timeout.Load())
}

// Dispatch invokes the named tool with args and returns its result. It never
// fails: an unknown tool, a handler error, a panic, or a timeout all produce
// an [ErrorResult].
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) any {
	v, _ := r.dispatch(ctx, name, args)
	return v
}

// dispatch is [Registry.Dispatch] that also reports the failure, if any.
func (r *Registry) dispatch(ctx context.Context, name string, args map[string]any) (any, *Error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	ctx, span := observe.StartSpan(ctx, "toolcall.dispatch",
		trace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	if !ok {
		terr := &Error{Kind: KindToolNotFound, Tool: name, Err: fmt.Errorf("tool %s not implemented", name)}
		r.finish(ctx, span, nil, name, 0, terr)
		return ErrorResult{Error: terr.cause()}, terr
	}
	span.SetAttributes(attribute.String("tool.source", e.source))

	start := time.Now()
	v, terr := r.invoke(ctx, name, e.handler, args)
	r.finish(ctx, span, e, name, time.Since(start), terr)
	if terr != nil {
		return ErrorResult{Error: terr.cause()}, terr
	}
	return v, nil
}

// outcome is what a handler goroutine reports back.
type outcome struct {
	value any
	err   error
}

// invoke runs h under the registry's tool deadline. The handler runs on its
// own goroutine so that a handler ignoring its context is abandoned, not
// waited for, when the deadline fires.
func (r *Registry) invoke(ctx context.Context, name string, h Handler, args map[string]any) (any, *Error) {
	timeout := r.Timeout()
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		v, err := h.Invoke(callCtx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, &Error{Kind: KindToolExecutionFailed, Tool: name, Err: o.err}
		}
		return o.value, nil
	case <-callCtx.Done():
		if ctx.Err() == nil {
			// Our own deadline fired.
			return nil, &Error{Kind: KindTimeout, Tool: name, Err: fmt.Errorf("tool %s timed out after %s", name, timeout)}
		}
		kind := KindToolExecutionFailed
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Tool: name, Err: fmt.Errorf("tool %s: %w", name, context.Cause(ctx))}
	}
}

// finish records telemetry for one dispatch. e is nil for unknown tools.
func (r *Registry) finish(ctx context.Context, span trace.Span, e *entry, name string, elapsed time.Duration, terr *Error) {
	status := "ok"
	if terr != nil {
		status = string(terr.Kind)
		span.RecordError(terr)
		span.SetStatus(codes.Error, string(terr.Kind))
	}

	label := name
	if e == nil {
		// Keep model-invented names out of metric labels.
		label = "unknown"
	}
	r.metrics.RecordToolCall(ctx, label, status)

	log := observe.WithTrace(ctx, r.logger)
	if e == nil {
		log.Warn("tool not found", "tool", name, "kind", KindToolNotFound)
		return
	}

	e.window.Record(elapsed.Milliseconds(), terr != nil)
	r.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("tool", name)),
	)

	if terr != nil {
		log.Warn("tool failed",
			"tool", name,
			"source", e.source,
			"kind", terr.Kind,
			"duration", elapsed,
			"err", observe.Redact(terr.cause()),
		)
		return
	}
	log.Debug("tool executed", "tool", name, "source", e.source, "duration", elapsed)
}
