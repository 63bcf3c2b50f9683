// Package payload encodes the opaque data attached to a displayed
// notification. The renderer stores it as a plain string and hands it back
// on taps, so encoding must be deterministic and decoding strict: whatever
// round-trips through a renderer is exactly the flat string map that went in.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports a payload that does not match the expected shape
// (a single JSON object with string values).
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payload: %s: %v", e.Reason, e.Err)
	}
	return "payload: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode renders data as a compact JSON object. encoding/json writes map
// keys in sorted order, so equal maps always produce identical strings.
func Encode(data map[string]string) (string, error) {
	if data == nil {
		data = map[string]string{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("payload: encode: %w", err)
	}
	return string(b), nil
}

// Decode parses an encoded payload back into its string map. Anything that
// is not exactly one flat string-to-string object is rejected.
func Decode(s string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var m map[string]string
	if err := dec.Decode(&m); err != nil {
		return nil, &DecodeError{Reason: "not a flat string map", Err: err}
	}
	if dec.More() {
		return nil, &DecodeError{Reason: "trailing data after object"}
	}
	if m == nil {
		return nil, &DecodeError{Reason: "not an object"}
	}
	return m, nil
}
