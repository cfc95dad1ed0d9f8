package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidArguments is wrapped by every error returned from [DecodeArguments].
var ErrInvalidArguments = errors.New("invalid arguments")

// DecodeArguments parses the raw argument string of a tool call. The string
// is produced by the model and is untrusted: it must be a single JSON object.
// Anything else, including an empty string or JSON null, is rejected.
func DecodeArguments(raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %T", ErrInvalidArguments, v)
	}
	return obj, nil
}
