package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSON serializes values as application/json. Byte slices become UTF-8
// strings, UUIDs and timestamps their canonical string forms. A JSONP
// callback wraps the document and switches the mime type to
// application/javascript.
type JSON struct{}

// NewJSON creates the JSON serializer.
func NewJSON() *JSON { return &JSON{} }

func (*JSON) Name() string     { return "json" }
func (*JSON) MimeType() string { return "application/json" }

func (j *JSON) Encode(v any, opts *Options) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if opts != nil && opts.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(normalizeJSONValue(v)); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")

	if opts != nil && opts.Callback != "" {
		wrapped := make([]byte, 0, len(out)+len(opts.Callback)+3)
		wrapped = append(wrapped, opts.Callback...)
		wrapped = append(wrapped, '(')
		wrapped = append(wrapped, out...)
		wrapped = append(wrapped, ')', ';')
		opts.ContentType = "application/javascript"
		return wrapped, nil
	}
	return out, nil
}

func (j *JSON) Decode(data []byte, _ *Options) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}

// normalizeJSONValue rewrites values encoding/json would mangle:
// []byte to string (instead of base64), uuid.UUID and time.Time to
// their string forms, recursively through maps and slices.
func normalizeJSONValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case uuid.UUID:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSONValue(item)
		}
		return out
	default:
		return v
	}
}
