package toolcall

import "errors"

// Kind classifies a failure observed while processing a turn.
type Kind string

const (
	// KindToolNotFound means the model requested a tool that is not
	// registered. Non-fatal; the model sees an error payload.
	KindToolNotFound Kind = "tool_not_found"

	// KindToolExecutionFailed means a handler returned an error, panicked,
	// or its arguments could not be decoded. Non-fatal.
	KindToolExecutionFailed Kind = "tool_execution_failed"

	// KindLLMRequestFailed means a round-trip to the LLM endpoint failed.
	// Fatal to the turn.
	KindLLMRequestFailed Kind = "llm_request_failed"

	// KindMalformedToolCall means the endpoint produced a tool call without
	// an ID or name. The call is skipped.
	KindMalformedToolCall Kind = "malformed_tool_call"

	// KindTimeout means an LLM round-trip or a tool invocation exceeded its
	// deadline. Fatal for round-trips, non-fatal for tools.
	KindTimeout Kind = "timeout"
)

// Error is the typed error carried through the tool-call pipeline.
type Error struct {
	Kind Kind

	// Tool is the tool name involved, if any.
	Tool string

	// Err is the underlying cause.
	Err error
}

// Sentinels for use with errors.Is. They match any *Error of the same kind.
var (
	ErrToolNotFound        = &Error{Kind: KindToolNotFound}
	ErrToolExecutionFailed = &Error{Kind: KindToolExecutionFailed}
	ErrLLMRequestFailed    = &Error{Kind: KindLLMRequestFailed}
	ErrMalformedToolCall   = &Error{Kind: KindMalformedToolCall}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

func (e *Error) Error() string {
	msg := "toolcall: " + string(e.Kind)
	if e.Tool != "" {
		msg += " (" + e.Tool + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Tool == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// cause returns the message of the error that caused e, which is the text
// shown to the model in an error payload.
func (e *Error) cause() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}
