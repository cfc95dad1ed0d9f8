// Package types defines the conversation data model shared by the LLM
// providers, the tool-call dispatcher, and the HTTP surface.
//
// The JSON form of every type mirrors the chat-completion wire shape so that a
// [Conversation] returned to an HTTP client can be posted back verbatim as
// history on the next request.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one turn of a conversation: a user message, an assistant reply
// (optionally requesting tool calls), or the result of a single tool call.
type Message struct {
	// Role is the author of this turn.
	Role Role `json:"role"`

	// Content is the text of the turn. For tool turns it holds the
	// JSON-encoded tool result. An assistant turn that only requests tools
	// has empty content, which is encoded as JSON null.
	Content string `json:"content"`

	// Name is an optional participant name.
	Name string `json:"name,omitempty"`

	// ToolCalls lists the tool invocations requested by an assistant turn,
	// in the order the model produced them.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set on tool turns and echoes the ID of the call answered.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// UserMessage returns a user turn carrying content.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns an assistant turn with optional tool calls.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage returns a tool turn answering the call identified by callID.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// MarshalJSON encodes an empty assistant content as null.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Role == RoleAssistant && m.Content == "" {
		return json.Marshal(struct {
			plain
			Content *string `json:"content"`
		}{plain: plain(m)})
	}
	return json.Marshal(plain(m))
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier that must be echoed back in the
	// answering tool turn.
	ID string

	// Name is the requested tool name.
	Name string

	// Arguments is the raw JSON-encoded argument object produced by the
	// model. It is untrusted and may not be valid JSON.
	Arguments string
}

type toolCallWire struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// MarshalJSON encodes c in the function-call wire shape.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	var w toolCallWire
	w.ID = c.ID
	w.Type = "function"
	w.Function.Name = c.Name
	w.Function.Arguments = c.Arguments
	return json.Marshal(w)
}

// UnmarshalJSON decodes c from the function-call wire shape.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var w toolCallWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.ID = w.ID
	c.Name = w.Function.Name
	c.Arguments = w.Function.Arguments
	return nil
}

// ToolDefinition declares a tool to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters is the JSON Schema describing the tool's arguments. It is
	// passed to the model unchanged.
	Parameters map[string]any `json:"parameters"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool
}

// ErrInvalidConversation is wrapped by every error returned from
// [Conversation.Validate].
var ErrInvalidConversation = errors.New("invalid conversation")

// Conversation is an ordered log of turns. The dispatcher only ever appends
// to a private copy; callers own trimming and persistence.
type Conversation []Message

// Clone returns a deep copy of c so that appends and edits to the copy never
// alias the original backing arrays.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	for i, m := range c {
		if m.ToolCalls != nil {
			m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}

// Validate checks the turn-ordering rules: every tool turn answers an
// outstanding call of the closest preceding assistant turn, and every call is
// answered before the next user or assistant turn.
func (c Conversation) Validate() error {
	pending := map[string]bool{}
	for i, m := range c {
		if !m.Role.IsValid() {
			return fmt.Errorf("%w: turn %d has unknown role %q", ErrInvalidConversation, i, m.Role)
		}
		if m.Role == RoleTool {
			if m.ToolCallID == "" {
				return fmt.Errorf("%w: tool turn %d has no tool_call_id", ErrInvalidConversation, i)
			}
			if !pending[m.ToolCallID] {
				return fmt.Errorf("%w: tool turn %d answers unknown call %q", ErrInvalidConversation, i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
			continue
		}
		if len(pending) > 0 {
			return fmt.Errorf("%w: turn %d follows %d unanswered tool call(s)", ErrInvalidConversation, i, len(pending))
		}
		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("%w: assistant turn %d has a tool call without id", ErrInvalidConversation, i)
				}
				pending[tc.ID] = true
			}
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: conversation ends with %d unanswered tool call(s)", ErrInvalidConversation, len(pending))
	}
	return nil
}
