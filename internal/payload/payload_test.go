package payload

import (
	"errors"
	"testing"
)

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()
	first, err := Encode(map[string]string{"zebra": "1", "alpha": "2", "mid": "3"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if first != `{"alpha":"2","mid":"3","zebra":"1"}` {
		t.Fatalf("unexpected encoding: %s", first)
	}
	for i := 0; i < 10; i++ {
		again, err := Encode(map[string]string{"mid": "3", "zebra": "1", "alpha": "2"})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if again != first {
			t.Fatalf("encoding not deterministic: %q vs %q", again, first)
		}
	}
}

func TestEncodeNil(t *testing.T) {
	t.Parallel()
	got, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil): %v", err)
	}
	if got != "{}" {
		t.Fatalf("Encode(nil) = %q, want {}", got)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   map[string]string
	}{
		{name: "empty", in: map[string]string{}},
		{name: "single", in: map[string]string{"k": "v"}},
		{name: "quotes and unicode", in: map[string]string{"msg": `she said "hi"`, "emoji": "🔔", "ru": "привет"}},
		{name: "empty key and values", in: map[string]string{"": "", "a": ""}},
		{name: "numeric strings stay strings", in: map[string]string{"badge": "5", "count": "0"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			enc, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode(%q): %v", enc, err)
			}
			if len(got) != len(tt.in) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.in))
			}
			for k, want := range tt.in {
				if got[k] != want {
					t.Fatalf("got[%q] = %q, want %q", k, got[k], want)
				}
			}
			// A second pass must produce the identical string.
			enc2, err := Encode(got)
			if err != nil {
				t.Fatalf("re-Encode: %v", err)
			}
			if enc2 != enc {
				t.Fatalf("round trip changed encoding: %q vs %q", enc2, enc)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty input", in: ""},
		{name: "null", in: "null"},
		{name: "array", in: `["a"]`},
		{name: "bare string", in: `"a"`},
		{name: "number value", in: `{"a":1}`},
		{name: "nested object", in: `{"a":{"b":"c"}}`},
		{name: "trailing tokens", in: `{"a":"b"} {"c":"d"}`},
		{name: "truncated", in: `{"a":"b"`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.in)
			if err == nil {
				t.Fatalf("Decode(%q): expected error", tt.in)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q): error type %T, want *DecodeError", tt.in, err)
			}
		})
	}
}
