package token

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeError reports a segment that could not be base64-decoded.
type DecodeError struct {
	Segment string
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("token: decode %s segment: %v", e.Segment, e.Err)
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeSegment encodes raw bytes using the URL-safe base64 alphabet without
// trailing padding, matching the JWT wire format.
func EncodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeSegment decodes a base64 token segment. Both the standard and URL-safe
// alphabets are accepted and padding characters may be absent, since processor
// callbacks have been observed with either form.
func DecodeSegment(segment, name string) ([]byte, error) {
	normalised := strings.TrimRight(segment, "=")
	normalised = strings.ReplaceAll(normalised, "+", "-")
	normalised = strings.ReplaceAll(normalised, "/", "_")
	raw, err := base64.RawURLEncoding.DecodeString(normalised)
	if err != nil {
		return nil, &DecodeError{Segment: name, Err: err}
	}
	return raw, nil
}
