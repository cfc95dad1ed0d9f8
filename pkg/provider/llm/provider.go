// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API (e.g., OpenAI,
// Anthropic, or a local Ollama instance) and exposes a uniform request/response
// shape to the tool-call dispatcher without coupling it to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/toolcaller/pkg/types"
)

// ToolChoice constrains whether the model may call tools in a response.
type ToolChoice string

const (
	// ToolChoiceDefault leaves the decision to the provider. Providers
	// send no tool-choice field at all.
	ToolChoiceDefault ToolChoice = ""

	// ToolChoiceAuto lets the model answer directly or request any number of
	// the offered tools.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceNone forbids tool calls even when tools are offered.
	ToolChoiceNone ToolChoice = "none"

	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
)

// IsValid reports whether c is a recognised tool choice.
func (c ToolChoice) IsValid() bool {
	switch c {
	case ToolChoiceDefault, ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return true
	}
	return false
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// Tools is the set of tool declarations offered to the model. When empty
	// no tools are sent and ToolChoice is ignored.
	Tools []types.ToolDefinition

	// ToolChoice is the tool-use policy for this request.
	ToolChoice ToolChoice

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means use the
	// provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction sent ahead of Messages. It is
	// never part of the returned conversation.
	SystemPrompt string
}

// CompletionResponse is a single assistant turn produced by the model.
type CompletionResponse struct {
	// Content is the text of the reply. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// ToolCalls lists the tool invocations requested by the model, in order.
	ToolCalls []types.ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM chat endpoint.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails, the response is malformed, or
	// ctx is done before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that messages would consume
	// in the model's context window. The result need not be exact.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() types.ModelCapabilities
}
