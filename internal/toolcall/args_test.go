package toolcall

import (
	"errors"
	"testing"
)

func TestDecodeArguments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantKey string
	}{
		{name: "object", raw: `{"location":"Tokyo, Japan"}`, wantKey: "location"},
		{name: "empty object", raw: `{}`},
		{name: "whitespace around object", raw: "  {\"topic\":\"go\"}\n", wantKey: "topic"},
		{name: "empty string", raw: "", wantErr: true},
		{name: "null", raw: "null", wantErr: true},
		{name: "array", raw: `[1,2]`, wantErr: true},
		{name: "string", raw: `"Tokyo"`, wantErr: true},
		{name: "truncated", raw: `{"location": "Tok`, wantErr: true},
		{name: "trailing garbage", raw: `{} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeArguments(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArguments) {
					t.Fatalf("DecodeArguments(%q) error = %v, want ErrInvalidArguments", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeArguments(%q): %v", tt.raw, err)
			}
			if got == nil {
				t.Fatal("DecodeArguments returned a nil map for an object")
			}
			if tt.wantKey != "" {
				if _, ok := got[tt.wantKey]; !ok {
					t.Errorf("result %v missing key %q", got, tt.wantKey)
				}
			}
		})
	}
}
