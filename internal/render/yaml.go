package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML serializes values as application/yaml using safe plain-node
// output.
type YAML struct{}

// NewYAML creates the YAML serializer.
func NewYAML() *YAML { return &YAML{} }

func (*YAML) Name() string     { return "yaml" }
func (*YAML) MimeType() string { return "application/yaml" }

func (y *YAML) Encode(v any, opts *Options) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	indent := 2
	if opts != nil && opts.Pretty {
		indent = 4
	}
	enc.SetIndent(indent)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (y *YAML) Decode(data []byte, _ *Options) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	return v, nil
}
