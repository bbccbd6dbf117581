package render

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// XML serializes values as application/xml with a deterministic element
// order (map keys sorted). CDATA sections and type attributes are
// opt-in; with type attributes enabled, Decode restores scalar types.
type XML struct{}

// NewXML creates the XML serializer.
func NewXML() *XML { return &XML{} }

func (*XML) Name() string     { return "xml" }
func (*XML) MimeType() string { return "application/xml" }

func (x *XML) Encode(v any, opts *Options) ([]byte, error) {
	root := "root"
	if opts != nil && opts.Root != "" {
		root = opts.Root
	}
	var sb strings.Builder
	sb.WriteString(xml.Header)
	if err := encodeXMLElement(&sb, root, v, opts); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encodeXMLElement(sb *strings.Builder, name string, v any, opts *Options) error {
	name = sanitizeXMLName(name)
	typed := opts != nil && opts.TypeAttrs

	switch val := v.(type) {
	case map[string]any:
		openXMLTag(sb, name, typed, "dict")
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeXMLElement(sb, k, val[k], opts); err != nil {
				return err
			}
		}
		closeXMLTag(sb, name)
	case []any:
		openXMLTag(sb, name, typed, "list")
		for _, item := range val {
			if err := encodeXMLElement(sb, "item", item, opts); err != nil {
				return err
			}
		}
		closeXMLTag(sb, name)
	case nil:
		openXMLTag(sb, name, typed, "none")
		closeXMLTag(sb, name)
	default:
		text, kind, err := xmlScalar(val)
		if err != nil {
			return err
		}
		openXMLTag(sb, name, typed, kind)
		if opts != nil && opts.CDATA && kind == "str" {
			sb.WriteString("<![CDATA[")
			sb.WriteString(strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>"))
			sb.WriteString("]]>")
		} else {
			_ = xml.EscapeText(writerAdapter{sb}, []byte(text))
		}
		closeXMLTag(sb, name)
	}
	return nil
}

func openXMLTag(sb *strings.Builder, name string, typed bool, kind string) {
	sb.WriteByte('<')
	sb.WriteString(name)
	if typed {
		sb.WriteString(` type="`)
		sb.WriteString(kind)
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
}

func closeXMLTag(sb *strings.Builder, name string) {
	sb.WriteString("</")
	sb.WriteString(name)
	sb.WriteByte('>')
}

func xmlScalar(v any) (text, kind string, err error) {
	switch val := v.(type) {
	case string:
		return val, "str", nil
	case []byte:
		return string(val), "str", nil
	case bool:
		return strconv.FormatBool(val), "bool", nil
	case int:
		return strconv.Itoa(val), "int", nil
	case int64:
		return strconv.FormatInt(val, 10), "int", nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), "float", nil
	case fmt.Stringer:
		return val.String(), "str", nil
	default:
		return fmt.Sprintf("%v", val), "str", nil
	}
}

func sanitizeXMLName(name string) string {
	if name == "" {
		return "item"
	}
	var sb strings.Builder
	for i, r := range name {
		valid := r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')
		if valid {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

type writerAdapter struct{ sb *strings.Builder }

func (w writerAdapter) Write(p []byte) (int, error) { return w.sb.Write(p) }

// Decode parses a document produced by Encode. Scalars come back as
// strings unless type attributes were written.
func (x *XML) Decode(data []byte, _ *Options) (any, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xml decode: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeXMLElement(dec, start)
		}
	}
}

func decodeXMLElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	kind := ""
	for _, attr := range start.Attr {
		if attr.Name.Local == "type" {
			kind = attr.Value
		}
	}

	var (
		text     strings.Builder
		children []struct {
			name  string
			value any
		}
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xml decode: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			children = append(children, struct {
				name  string
				value any
			}{t.Name.Local, child})
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) > 0 {
				if kind == "list" || (kind == "" && allNamed(children, "item")) {
					list := make([]any, len(children))
					for i, c := range children {
						list[i] = c.value
					}
					return list, nil
				}
				m := make(map[string]any, len(children))
				for _, c := range children {
					m[c.name] = c.value
				}
				return m, nil
			}
			return xmlScalarFromText(strings.TrimSpace(text.String()), kind)
		}
	}
}

func allNamed(children []struct {
	name  string
	value any
}, name string) bool {
	for _, c := range children {
		if c.name != name {
			return false
		}
	}
	return len(children) > 0
}

func xmlScalarFromText(text, kind string) (any, error) {
	switch kind {
	case "int":
		return strconv.ParseInt(text, 10, 64)
	case "float":
		return strconv.ParseFloat(text, 64)
	case "bool":
		return strconv.ParseBool(text)
	case "none":
		return nil, nil
	case "list":
		return []any{}, nil
	case "dict":
		return map[string]any{}, nil
	default:
		return text, nil
	}
}
