package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Base64 encodes the body as base64 of its string representation.
// Non-string values are JSON-encoded first.
type Base64 struct{}

// NewBase64 creates the base64 serializer.
func NewBase64() *Base64 { return &Base64{} }

func (*Base64) Name() string     { return "base64" }
func (*Base64) MimeType() string { return "application/base64" }

func (b *Base64) Encode(v any, _ *Options) ([]byte, error) {
	var raw []byte
	switch val := v.(type) {
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("base64 encode: %w", err)
		}
		raw = encoded
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (b *Base64) Decode(data []byte, _ *Options) (any, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return string(out[:n]), nil
}
