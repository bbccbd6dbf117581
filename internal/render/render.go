// Package render implements the response builder registry: named
// serializers, content negotiation from Accept or an explicit format
// hint, and normalization of handler return shapes.
package render

import (
	"fmt"
	"net/http"
)

// Options carries per-request serialization knobs. Serializers may set
// extra response headers on Header and override the emitted content
// type via ContentType.
type Options struct {
	// Pretty enables indented output where the codec supports it.
	Pretty bool
	// Callback wraps JSON output as JSONP when nonempty.
	Callback string
	// Root names the XML document element.
	Root string
	// CDATA wraps XML text content in CDATA sections.
	CDATA bool
	// TypeAttrs annotates XML elements with a type attribute.
	TypeAttrs bool
	// Separator joins nested keys when flattening for CSV.
	Separator string
	// Filename names the CSV attachment (without extension).
	Filename string
	// Template selects the HTML template to render.
	Template string

	// Header receives serializer-emitted response headers.
	Header http.Header
	// ContentType, when set by the serializer, overrides its mime type.
	ContentType string
}

// NewOptions returns Options with an allocated header map.
func NewOptions() *Options {
	return &Options{Header: make(http.Header), Separator: "_"}
}

// Serializer converts a value to bytes with a fixed mime type.
type Serializer interface {
	Name() string
	MimeType() string
	Encode(v any, opts *Options) ([]byte, error)
}

// Decoder is implemented by serializers that can reverse Encode for
// their declared subset of values.
type Decoder interface {
	Decode(data []byte, opts *Options) (any, error)
}

// Registry maps names to serializers with a secondary mime index. It is
// immutable after startup; request-time lookups take no locks.
type Registry struct {
	byName      map[string]Serializer
	byMime      map[string]string
	order       []string
	defaultName string
}

// NewRegistry creates an empty registry whose Build falls back to
// defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		byName:      make(map[string]Serializer),
		byMime:      make(map[string]string),
		defaultName: defaultName,
	}
}

// NewDefaultRegistry registers the built-in serializers with json as
// the fallback.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry("json")
	for _, s := range []Serializer{
		NewJSON(), NewXML(), NewYAML(), NewCSV(), NewBase64(), NewHTML(nil),
	} {
		if err := reg.Register(s); err != nil {
			// Built-ins have distinct names and mimes.
			panic(err)
		}
	}
	return reg
}

// Register adds a serializer. Names are unique; the first serializer
// registered for a mime type becomes that mime's primary.
func (r *Registry) Register(s Serializer) error {
	name := s.Name()
	if name == "" {
		return fmt.Errorf("render: serializer with empty name")
	}
	if s.MimeType() == "" {
		return fmt.Errorf("render: serializer %q has empty mime type", name)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("render: serializer %q already registered", name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	if _, exists := r.byMime[s.MimeType()]; !exists {
		r.byMime[s.MimeType()] = name
	}
	return nil
}

// Get returns the serializer registered under name.
func (r *Registry) Get(name string) (Serializer, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// ByMime returns the primary serializer for a mime type.
func (r *Registry) ByMime(mime string) (Serializer, bool) {
	name, ok := r.byMime[mime]
	if !ok {
		return nil, false
	}
	return r.Get(name)
}

// Default returns the fallback serializer.
func (r *Registry) Default() Serializer {
	s, ok := r.byName[r.defaultName]
	if !ok {
		return nil
	}
	return s
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Build selects a serializer: by name when given, else by the data's
// Content-Type hint, else the default.
func (r *Registry) Build(name string, contentTypeHint string) (Serializer, error) {
	if name != "" {
		if s, ok := r.Get(name); ok {
			return s, nil
		}
		return nil, fmt.Errorf("render: unknown serializer %q", name)
	}
	if contentTypeHint != "" {
		if s, ok := r.ByMime(stripParams(contentTypeHint)); ok {
			return s, nil
		}
	}
	if s := r.Default(); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("render: no default serializer configured")
}
