package toolcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/pkg/provider/llm"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// Result is the outcome of one successfully processed turn.
type Result struct {
	// FinalText is the model's closing answer. Empty when the model produced
	// no text.
	FinalText string

	// ToolCallCount is the number of tool calls executed during the turn.
	// Malformed calls that were skipped are not counted.
	ToolCallCount int

	// Conversation is the caller's prior conversation followed by every turn
	// appended while processing: the user turn, the assistant turn, and, when
	// tools were called, one tool turn per call plus the final assistant turn.
	Conversation types.Conversation

	// TurnID identifies the turn in logs and traces.
	TurnID string
}

type turnIDKey struct{}

// ContextWithTurnID returns a context that makes [Dispatcher.ProcessTurn] use
// id instead of generating one. HTTP handlers use it to report the ID before
// the turn completes.
func ContextWithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnIDFromContext returns the turn ID stored by [ContextWithTurnID].
func TurnIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(turnIDKey{}).(string)
	return id, ok && id != ""
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithRoundTripTimeout sets the deadline for each LLM round-trip. Zero
// disables the deadline.
func WithRoundTripTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.roundTripTimeout = t
	}
}

// WithTemperature sets the sampling temperature sent on both round-trips.
func WithTemperature(t float64) Option {
	return func(d *Dispatcher) {
		d.temperature = t
	}
}

// WithMaxTokens caps completion tokens on both round-trips.
func WithMaxTokens(n int) Option {
	return func(d *Dispatcher) {
		d.maxTokens = n
	}
}

// WithSystemPrompt sets an instruction sent ahead of the conversation on
// both round-trips. It is never stored in the conversation.
func WithSystemPrompt(s string) Option {
	return func(d *Dispatcher) {
		d.systemPrompt = s
	}
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(d *Dispatcher) {
		d.providerName = name
	}
}

// Dispatcher drives conversational turns against an LLM provider, executing
// requested tools through a [Registry].
//
// A Dispatcher holds no per-turn state and is safe for concurrent use as long
// as each call to [Dispatcher.ProcessTurn] gets its own conversation.
type Dispatcher struct {
	provider llm.Provider
	registry *Registry

	logger           *slog.Logger
	metrics          *observe.Metrics
	roundTripTimeout time.Duration
	temperature      float64
	maxTokens        int
	systemPrompt     string
	providerName     string
}

// NewDispatcher returns a Dispatcher that talks to p and executes tools from r.
func NewDispatcher(p llm.Provider, r *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider:     p,
		registry:     r,
		providerName: "llm",
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Registry returns the registry the dispatcher executes tools from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// turnState is a step of the two round-trip protocol.
type turnState int

const (
	stateAwaitingFirstResponse turnState = iota
	stateExecutingTools
	stateAwaitingFinalResponse
	stateDone
)

func (s turnState) String() string {
	switch s {
	case stateAwaitingFirstResponse:
		return "awaiting_first_response"
	case stateExecutingTools:
		return "executing_tools"
	case stateAwaitingFinalResponse:
		return "awaiting_final_response"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("turnState(%d)", int(s))
}

// ProcessTurn appends userMessage to a copy of prior and runs one turn:
//
//  1. The conversation and all tool declarations are sent with tool choice
//     "auto".
//  2. If the reply requests no tools, the turn ends after one round-trip.
//  3. Otherwise each requested call is executed in order and answered with a
//     tool turn, then a second round-trip without tools produces the final
//     answer.
//
// prior is never modified. On failure no conversation is returned and the
// error is a *[Error] of kind [KindLLMRequestFailed] or [KindTimeout].
func (d *Dispatcher) ProcessTurn(ctx context.Context, userMessage string, prior types.Conversation) (*Result, error) {
	turnID, ok := TurnIDFromContext(ctx)
	if !ok {
		turnID = uuid.NewString()
	}
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "toolcall.ProcessTurn",
		trace.WithAttributes(attribute.String("turn.id", turnID)),
	)
	defer span.End()

	d.metrics.ActiveTurns.Add(ctx, 1)
	defer d.metrics.ActiveTurns.Add(ctx, -1)

	log := observe.WithTrace(ctx, d.logger).With("turn_id", turnID)

	conv := append(prior.Clone(), types.UserMessage(userMessage))
	d.estimateTokens(span, log, conv)

	var (
		resp  *llm.CompletionResponse
		calls []types.ToolCall
		err   error
	)
	state := stateAwaitingFirstResponse
	for state != stateDone {
		log.Debug("turn state", "state", state)

		switch state {
		case stateAwaitingFirstResponse:
			resp, err = d.roundTrip(ctx, "first", llm.CompletionRequest{
				Messages:   conv,
				Tools:      d.registry.Declarations(),
				ToolChoice: llm.ToolChoiceAuto,
			})
			if err != nil {
				return nil, d.fail(ctx, span, log, start, err)
			}
			calls = d.wellFormed(ctx, log, resp.ToolCalls)
			conv = append(conv, types.AssistantMessage(resp.Content, calls))
			if len(calls) == 0 {
				state = stateDone
				continue
			}
			state = stateExecutingTools

		case stateExecutingTools:
			for _, call := range calls {
				conv = append(conv, d.execute(ctx, log, call))
			}
			state = stateAwaitingFinalResponse

		case stateAwaitingFinalResponse:
			resp, err = d.roundTrip(ctx, "final", llm.CompletionRequest{Messages: conv})
			if err != nil {
				return nil, d.fail(ctx, span, log, start, err)
			}
			if n := len(resp.ToolCalls); n > 0 {
				log.Warn("dropping tool calls from final response",
					"kind", KindMalformedToolCall,
					"count", n,
				)
			}
			conv = append(conv, types.AssistantMessage(resp.Content, nil))
			state = stateDone
		}
	}

	elapsed := time.Since(start)
	d.metrics.TurnDuration.Record(ctx, elapsed.Seconds())
	d.metrics.RecordTurn(ctx, "ok")
	span.SetAttributes(attribute.Int("turn.tool_calls", len(calls)))
	log.Info("turn completed", "tool_calls", len(calls), "duration", elapsed)

	return &Result{
		FinalText:     resp.Content,
		ToolCallCount: len(calls),
		Conversation:  conv,
		TurnID:        turnID,
	}, nil
}

// fail records a failed turn and returns err unchanged.
func (d *Dispatcher) fail(ctx context.Context, span trace.Span, log *slog.Logger, start time.Time, err error) error {
	kind := KindOf(err)
	d.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	d.metrics.RecordTurn(ctx, string(kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	log.Error("turn failed", "kind", kind, "err", observe.Redact(err.Error()))
	return err
}

// roundTrip sends req under the round-trip deadline and classifies failures.
func (d *Dispatcher) roundTrip(ctx context.Context, phase string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Temperature = d.temperature
	req.MaxTokens = d.maxTokens
	req.SystemPrompt = d.systemPrompt

	ctx, span := observe.StartSpan(ctx, "toolcall.roundTrip",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.phase", phase),
			attribute.Int("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	if d.roundTripTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.roundTripTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.provider.Complete(ctx, req)
	d.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("round_trip", phase)),
	)
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil {
		kind := KindLLMRequestFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		d.metrics.RecordProviderRequest(ctx, d.providerName, phase, "error")
		d.metrics.RecordProviderError(ctx, d.providerName, string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		return nil, &Error{Kind: kind, Err: fmt.Errorf("%s round-trip: %w", phase, err)}
	}

	d.metrics.RecordProviderRequest(ctx, d.providerName, phase, "ok")
	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp, nil
}

// wellFormed returns the calls that can be executed and answered. Calls
// without an ID or name, and repeats of an ID already seen, are skipped.
func (d *Dispatcher) wellFormed(ctx context.Context, log *slog.Logger, calls []types.ToolCall) []types.ToolCall {
	var out []types.ToolCall
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		reason := ""
		switch {
		case c.ID == "":
			reason = "missing call id"
		case c.Name == "":
			reason = "missing tool name"
		case seen[c.ID]:
			reason = "duplicate call id"
		}
		if reason != "" {
			d.metrics.RecordToolCall(ctx, "unknown", string(KindMalformedToolCall))
			log.Warn("skipping malformed tool call",
				"kind", KindMalformedToolCall,
				"reason", reason,
				"index", i,
				"call_id", c.ID,
				"tool", c.Name,
			)
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// execute runs one call and returns the tool turn answering it.
func (d *Dispatcher) execute(ctx context.Context, log *slog.Logger, call types.ToolCall) types.Message {
	var result any
	args, err := DecodeArguments(call.Arguments)
	if err != nil {
		d.metrics.RecordToolCall(ctx, call.Name, string(KindToolExecutionFailed))
		log.Warn("invalid tool arguments",
			"kind", KindToolExecutionFailed,
			"tool", call.Name,
			"call_id", call.ID,
			"err", err,
		)
		result = ErrorResult{Error: "invalid arguments"}
	} else {
		result = d.registry.Dispatch(ctx, call.Name, args)
	}
	return types.ToolResultMessage(call.ID, encodeResult(log, call.Name, result))
}

// encodeResult JSON-encodes a tool result without HTML escaping.
func encodeResult(log *slog.Logger, name string, v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Warn("tool result not encodable", "kind", KindToolExecutionFailed, "tool", name, "err", err)
		buf.Reset()
		_ = enc.Encode(ErrorResult{Error: fmt.Sprintf("tool %s returned a result that cannot be encoded", name)})
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// estimateTokens logs the provider's prompt size estimate.
func (d *Dispatcher) estimateTokens(span trace.Span, log *slog.Logger, conv types.Conversation) {
	n, err := d.provider.CountTokens(conv)
	if err != nil {
		log.Debug("token estimate unavailable", "err", err)
		return
	}
	span.SetAttributes(attribute.Int("llm.prompt_tokens_estimate", n))
	log.Debug("prompt token estimate", "tokens", n)
	if window := d.provider.Capabilities().ContextWindow; window > 0 && n > window {
		log.Warn("conversation exceeds model context window", "tokens", n, "context_window", window)
	}
}
