package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/toolcaller/pkg/provider/llm"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage_Roles(t *testing.T) {
	for _, role := range []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant} {
		t.Run(string(role), func(t *testing.T) {
			got := convertMessage(types.Message{Role: role, Content: "text", Name: "alice"})
			if got.Role != string(role) {
				t.Errorf("Role = %q, want %q", got.Role, role)
			}
			if got.ContentString() != "text" {
				t.Errorf("Content = %q, want text", got.ContentString())
			}
			if got.Name != "alice" {
				t.Errorf("Name = %q, want alice", got.Name)
			}
		})
	}
}

func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	got := convertMessage(types.AssistantMessage("", []types.ToolCall{
		{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Berlin"}`},
	}))
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "get_weather" || tc.Function.Arguments != `{"location":"Berlin"}` {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Type != "function" {
		t.Errorf("expected type function, got %q", tc.Type)
	}
}

func TestConvertMessage_Tool(t *testing.T) {
	got := convertMessage(types.ToolResultMessage("call_1", `{"ok":true}`))
	if got.Role != "tool" {
		t.Errorf("expected role tool, got %q", got.Role)
	}
	if got.ToolCallID != "call_1" {
		t.Errorf("expected ToolCallID call_1, got %q", got.ToolCallID)
	}
	if got.ContentString() != `{"ok":true}` {
		t.Errorf("unexpected content %q", got.ContentString())
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_ToolsAndSystemPrompt(t *testing.T) {
	p := &Provider{model: "claude-3-5-sonnet-latest"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages:     []types.Message{types.UserMessage("hi")},
		Tools:        []types.ToolDefinition{{Name: "search_news", Description: "news", Parameters: map[string]any{"type": "object"}}},
		ToolChoice:   llm.ToolChoiceAuto,
		SystemPrompt: "be brief",
		Temperature:  0.2,
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("expected system prompt first, got %+v", params.Messages)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "search_news" {
		t.Errorf("unexpected tools: %+v", params.Tools)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("MaxTokens = %v, want 128", params.MaxTokens)
	}
}

func TestBuildParams_RejectsNonPortableToolChoice(t *testing.T) {
	p := &Provider{model: "llama3"}
	for _, choice := range []llm.ToolChoice{llm.ToolChoiceNone, llm.ToolChoiceRequired} {
		if _, err := p.buildParams(llm.CompletionRequest{ToolChoice: choice}); err == nil {
			t.Errorf("tool choice %q: expected error", choice)
		}
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model     string
		ctxWindow int
		maxOut    int
		vision    bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"gpt-4-turbo", 128_000, 4_096, true},
		{"gpt-4", 8_192, 4_096, false},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true},
		{"claude-3-opus-20240229", 200_000, 4_096, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true},
		{"gemini-pro", 128_000, 8_192, true},
		{"llama3", 128_000, 4_096, false},
		{"GPT-4O", 128_000, 16_384, true},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.ctxWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.ctxWindow)
			}
			if caps.MaxOutputTokens != tc.maxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tc.maxOut)
			}
			if caps.SupportsVision != tc.vision {
				t.Errorf("SupportsVision = %v, want %v", caps.SupportsVision, tc.vision)
			}
			if !caps.SupportsToolCalling {
				t.Error("expected SupportsToolCalling=true")
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name  string
		model string
		opts  []anyllmlib.Option
	}{
		{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", "claude-3-5-sonnet-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.name, tc.model, tc.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != tc.model || p.name != tc.name {
				t.Errorf("provider = %s/%s, want %s/%s", p.name, p.model, tc.name, tc.model)
			}
		})
	}
}
