// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the dispatcher sends correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. Responses are consumed in order, one per Complete call, which makes
// the two round-trips of a tool-calling turn easy to script.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []mock.Response{
//	        {Resp: &llm.CompletionResponse{ToolCalls: calls}},
//	        {Resp: &llm.CompletionResponse{Content: "It is 21°C in Tokyo."}},
//	    },
//	}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/toolcaller/pkg/provider/llm"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// ErrNoResponse is returned by Complete when the script is exhausted and no
// fallback CompleteResponse is configured.
var ErrNoResponse = errors.New("mock: no scripted response left")

// Response is one scripted answer to a Complete call.
type Response struct {
	Resp *llm.CompletionResponse
	Err  error

	// Block makes Complete wait until ctx is done and return ctx.Err().
	Block bool
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is a deep copy of the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// CountTokensCall records a single invocation of CountTokens.
type CountTokensCall struct {
	Messages []types.Message
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is consumed front to back, one entry per Complete call.
	Responses []Response

	// CompleteResponse and CompleteErr are returned once Responses is empty.
	// When both are nil, Complete returns ErrNoResponse.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// CountTokensCalls records every invocation of CountTokens in order.
	CountTokensCalls []CountTokensCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: copyRequest(req)})

	var next Response
	switch {
	case len(p.Responses) > 0:
		next = p.Responses[0]
		p.Responses = p.Responses[1:]
	case p.CompleteResponse != nil || p.CompleteErr != nil:
		next = Response{Resp: p.CompleteResponse, Err: p.CompleteErr}
	default:
		next = Response{Err: ErrNoResponse}
	}
	p.mu.Unlock()

	if next.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return copyResponse(next.Resp), nil
}

// CountTokens records the call and returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: types.Conversation(messages).Clone()})
	return p.TokenCount, p.CountTokensErr
}

// Capabilities records the call and returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls. Thread-safe.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}

func copyRequest(req llm.CompletionRequest) llm.CompletionRequest {
	req.Messages = types.Conversation(req.Messages).Clone()
	if req.Tools != nil {
		req.Tools = append([]types.ToolDefinition(nil), req.Tools...)
	}
	return req
}

func copyResponse(resp *llm.CompletionResponse) *llm.CompletionResponse {
	if resp == nil {
		return nil
	}
	cp := *resp
	if resp.ToolCalls != nil {
		cp.ToolCalls = append([]types.ToolCall(nil), resp.ToolCalls...)
	}
	return &cp
}
