package main

import (
	"slices"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/toolcaller/internal/config"
	"github.com/MrWong99/toolcaller/pkg/provider/llm/anyllm"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	want := slices.Clone(anyllm.SupportedProviders)
	slices.Sort(want)
	if got := reg.LLMNames(); !slices.Equal(got, want) {
		t.Errorf("LLMNames() = %v, want %v", got, want)
	}
	for _, name := range config.KnownLLMProviders {
		if !slices.Contains(reg.LLMNames(), name) {
			t.Errorf("known provider %q has no factory", name)
		}
	}
}

func TestRegisterBuiltinProviders_OpenAI(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	p, err := reg.CreateLLM(config.LLMConfig{
		Provider: "openai",
		APIKey:   "sk-test",
		Model:    "gpt-4-turbo",
		BaseURL:  "http://127.0.0.1:1/v1",
		Options:  map[string]any{"organization": "org-1"},
	})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if !p.Capabilities().SupportsToolCalling {
		t.Error("openai provider does not report tool calling support")
	}
}

func TestOptString(t *testing.T) {
	opts := map[string]any{"organization": "org-1", "n": 3}
	tests := []struct {
		opts map[string]any
		key  string
		want string
	}{
		{opts, "organization", "org-1"},
		{opts, "n", ""},
		{opts, "missing", ""},
		{nil, "organization", ""},
	}
	for _, tt := range tests {
		if got := optString(tt.opts, tt.key); got != tt.want {
			t.Errorf("optString(%v, %q) = %q, want %q", tt.opts, tt.key, got, tt.want)
		}
	}
}

func TestFitCell(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"short", "openai / gpt-4o", "openai / gpt-4o"},
		{"exact", "0123456789012345678", "0123456789012345678"},
		{"ascii cut", "openai / gpt-4-turbo-preview", "openai / gpt-4-tur…"},
		{"multibyte cut", "モデル名モデル名モデル名モデル名モデル名", "モデル名モデル名モデル名モデル名モデ…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitCell(tt.value, 19)
			if got != tt.want {
				t.Errorf("fitCell(%q) = %q, want %q", tt.value, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("fitCell(%q) = %q is not valid UTF-8", tt.value, got)
			}
			if n := utf8.RuneCountInString(got); n > 19 {
				t.Errorf("fitCell(%q) has %d runes, want <= 19", tt.value, n)
			}
		})
	}
}
