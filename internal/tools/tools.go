// Package tools defines the shared [Tool] type used by the built-in tool
// packages. Each sub-package exports a constructor that returns a [Tool] ready
// for registration with a [toolcall.Registry].
//
// Parameter schemas are reflected from Go argument structs with
// github.com/invopop/jsonschema, and the decoded argument objects the model
// sends are mapped back onto those structs with github.com/mitchellh/mapstructure.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/toolcaller/internal/toolcall"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// Tool is a built-in tool: its LLM-facing declaration plus the handler invoked
// when the model calls it.
type Tool struct {
	// Definition is the tool's name, description, and JSON Schema parameters.
	Definition types.ToolDefinition

	// Handler executes the tool. Implementations must be safe for concurrent
	// use and must respect context cancellation.
	Handler toolcall.Handler
}

// New builds a Tool whose parameter schema is reflected from Args and whose
// handler receives the call's arguments decoded into Args.
func New[Args any](name, description string, fn func(ctx context.Context, args Args) (any, error)) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  Schema[Args](),
		},
		Handler: toolcall.HandlerFunc(func(ctx context.Context, raw map[string]any) (any, error) {
			args, err := Decode[Args](raw)
			if err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
			}
			return fn(ctx, args)
		}),
	}
}

// Register adds every tool to r as a builtin.
func Register(r *toolcall.Registry, ts ...Tool) error {
	var errs []error
	for _, t := range ts {
		if err := r.RegisterDefinition(t.Definition, t.Handler, toolcall.SourceBuiltin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Schema returns the JSON Schema of T as a generic map, inlined without
// $ref/$defs so every LLM backend accepts it. Fields are required unless their
// json tag carries omitempty.
func Schema[T any]() map[string]any {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	s := r.Reflect(new(T))

	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// Decode maps a decoded argument object onto T using json tag names. Input is
// weakly typed so "5" decodes into an int field; unknown keys are ignored.
func Decode[T any](args map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(args); err != nil {
		return out, err
	}
	return out, nil
}

// HTTPClient returns a client for upstream API calls whose requests are
// traced as children of the current span.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
