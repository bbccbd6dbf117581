package render

import (
	"encoding/base64"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestRegistryRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry("json")
	if err := reg.Register(NewJSON()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(NewJSON()); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestRegistryMimeIndexPrimary(t *testing.T) {
	reg := NewDefaultRegistry()
	s, ok := reg.ByMime("application/json")
	if !ok || s.Name() != "json" {
		t.Fatalf("expected json primary for its mime, got %v %v", s, ok)
	}
	if _, ok := reg.ByMime("text/unknown"); ok {
		t.Fatal("unknown mime must not resolve")
	}
}

func TestBuildFallsBackToDefault(t *testing.T) {
	reg := NewDefaultRegistry()
	s, err := reg.Build("", "")
	if err != nil || s.Name() != "json" {
		t.Fatalf("expected default json, got %v %v", s, err)
	}

	s, err = reg.Build("", "application/xml; charset=utf-8")
	if err != nil || s.Name() != "xml" {
		t.Fatalf("expected mime hint to pick xml, got %v %v", s, err)
	}

	if _, err := reg.Build("nope", ""); err == nil {
		t.Fatal("unknown explicit name must error")
	}
}

func TestOnAcceptPicksByQuality(t *testing.T) {
	reg := NewDefaultRegistry()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "application/xml;q=0.9, application/json;q=0.5")

	s, ok := reg.OnAccept(req, "", nil, false)
	if !ok || s.Name() != "xml" {
		t.Fatalf("expected xml by quality, got %v %v", s, ok)
	}
}

func TestOnAcceptWildcard(t *testing.T) {
	reg := NewDefaultRegistry()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "*/*")

	s, ok := reg.OnAccept(req, "", nil, true)
	if !ok || s.Name() != "json" {
		t.Fatalf("wildcard should hit first candidate, got %v %v", s, ok)
	}
}

func TestOnAcceptStrict406(t *testing.T) {
	reg := NewDefaultRegistry()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/plain")

	if _, ok := reg.OnAccept(req, "", nil, true); ok {
		t.Fatal("strict negotiation must fail for unsatisfiable Accept")
	}
	s, ok := reg.OnAccept(req, "", nil, false)
	if !ok || s.Name() != "json" {
		t.Fatalf("lenient negotiation falls back to default, got %v %v", s, ok)
	}
}

func TestOnFormat(t *testing.T) {
	reg := NewDefaultRegistry()
	req := httptest.NewRequest("GET", "/?format=yaml", nil)
	s, ok := reg.OnFormat(req, "format")
	if !ok || s.Name() != "yaml" {
		t.Fatalf("expected yaml from query, got %v %v", s, ok)
	}

	req = httptest.NewRequest("GET", "/", nil)
	s, ok = reg.OnFormat(req, "format")
	if !ok || s.Name() != "json" {
		t.Fatalf("expected default without query, got %v %v", s, ok)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	j := NewJSON()
	value := map[string]any{"name": "a", "count": float64(3), "tags": []any{"x", "y"}}
	data, err := j.Encode(value, NewOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := j.Decode(data, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(back, value) {
		t.Fatalf("round trip mismatch: %v != %v", back, value)
	}
}

func TestJSONBytesAsString(t *testing.T) {
	j := NewJSON()
	data, err := j.Encode(map[string]any{"blob": []byte("hello")}, NewOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"hello"`) {
		t.Fatalf("bytes must encode as utf-8 string, got %s", data)
	}
}

func TestJSONPWrapsAndSwitchesMime(t *testing.T) {
	j := NewJSON()
	opts := NewOptions()
	opts.Callback = "cb"
	data, err := j.Encode(map[string]any{"k": "v"}, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := string(data)
	if !strings.HasPrefix(body, "cb(") || !strings.HasSuffix(body, ");") {
		t.Fatalf("expected jsonp wrapping, got %s", body)
	}
	if opts.ContentType != "application/javascript" {
		t.Fatalf("expected javascript mime, got %q", opts.ContentType)
	}
}

func TestXMLRoundTripTyped(t *testing.T) {
	x := NewXML()
	opts := NewOptions()
	opts.TypeAttrs = true
	value := map[string]any{
		"name":  "vessel",
		"count": int64(5),
		"ok":    true,
		"tags":  []any{"a", "b"},
	}
	data, err := x.Encode(value, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := x.Decode(data, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(back, value) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", back, value)
	}
}

func TestXMLDeterministicOrder(t *testing.T) {
	x := NewXML()
	value := map[string]any{"b": "2", "a": "1", "c": "3"}
	first, err := x.Encode(value, NewOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _ := x.Encode(value, NewOptions())
		if string(again) != string(first) {
			t.Fatal("xml output must be deterministic")
		}
	}
	if strings.Index(string(first), "<a>") > strings.Index(string(first), "<b>") {
		t.Fatal("keys must be sorted")
	}
}

func TestXMLCDATA(t *testing.T) {
	x := NewXML()
	opts := NewOptions()
	opts.CDATA = true
	data, err := x.Encode(map[string]any{"html": "<b>bold</b>"}, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), "<![CDATA[<b>bold</b>]]>") {
		t.Fatalf("expected cdata section, got %s", data)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	y := NewYAML()
	value := map[string]any{"name": "vessel", "n": 2}
	data, err := y.Encode(value, NewOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := y.Decode(data, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := back.(map[string]any)
	if !ok || m["name"] != "vessel" || m["n"] != 2 {
		t.Fatalf("round trip mismatch: %#v", back)
	}
}

func TestCSVFlattensAndCountsHeaders(t *testing.T) {
	c := NewCSV()
	opts := NewOptions()
	opts.Filename = "people"
	value := []any{
		map[string]any{"name": "ada", "address": map[string]any{"city": "london"}},
		map[string]any{"name": "alan", "address": map[string]any{"city": "wilmslow"}},
	}
	data, err := c.Encode(value, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "address_city,name" {
		t.Fatalf("expected flattened sorted header, got %q", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if opts.Header.Get("X-Total-Rows") != "2" || opts.Header.Get("X-Total-Columns") != "2" {
		t.Fatalf("bad totals: rows=%q cols=%q", opts.Header.Get("X-Total-Rows"), opts.Header.Get("X-Total-Columns"))
	}
	if got := opts.Header.Get("Content-Disposition"); got != "attachment; filename=people.csv" {
		t.Fatalf("bad disposition: %q", got)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	c := NewCSV()
	value := []any{
		map[string]any{"a": "1", "b": "x"},
		map[string]any{"a": "2", "b": "y"},
	}
	data, err := c.Encode(value, NewOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := c.Decode(data, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(back, value) {
		t.Fatalf("round trip mismatch: %#v", back)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	b := NewBase64()
	data, err := b.Encode("hello world", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != base64.StdEncoding.EncodeToString([]byte("hello world")) {
		t.Fatalf("unexpected encoding: %s", data)
	}
	back, err := b.Decode(data, nil)
	if err != nil || back != "hello world" {
		t.Fatalf("round trip: %v %v", back, err)
	}
}

func TestHTMLTabular(t *testing.T) {
	h := NewHTML(nil)
	data, err := h.Encode([]any{map[string]any{"name": "ada"}}, NewOptions())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "<th>name</th>") || !strings.Contains(body, "<td>ada</td>") {
		t.Fatalf("expected table output, got %s", body)
	}
}

func TestNormalizeShapes(t *testing.T) {
	// Plain value.
	resp := Normalize("hello")
	if resp.Value != "hello" || resp.Status != 200 {
		t.Fatalf("plain value: %+v", resp)
	}
	// Bare status.
	resp = Normalize(204)
	if resp.Value != nil || resp.Status != 204 {
		t.Fatalf("bare int: %+v", resp)
	}
	// (value, status).
	resp = Normalize([]any{"x", 201})
	if resp.Value != "x" || resp.Status != 201 {
		t.Fatalf("(value, status): %+v", resp)
	}
	// (value, headers).
	resp = Normalize([]any{"x", map[string]string{"X-K": "v"}})
	if resp.Status != 200 || resp.Header.Get("X-K") != "v" {
		t.Fatalf("(value, headers): %+v", resp)
	}
	// (value, status, headers).
	resp = Normalize([]any{"x", 418, map[string]string{"X-K": "v"}})
	if resp.Status != 418 || resp.Header.Get("X-K") != "v" {
		t.Fatalf("(value, status, headers): %+v", resp)
	}
	// Response passthrough.
	resp = Normalize(Response{Value: "y"})
	if resp.Value != "y" || resp.Status != 200 || resp.Header == nil {
		t.Fatalf("response passthrough: %+v", resp)
	}
}

func TestNoContentStripsEntityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.Header().Set("Content-Length", "42")
	NoContent(rec)
	if rec.Code != 204 {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "" || rec.Header().Get("Content-Length") != "" {
		t.Fatal("entity headers must be stripped")
	}
}

func TestTemplateOrJSON(t *testing.T) {
	reg := NewDefaultRegistry()
	if _, ok := reg.Get("html"); !ok {
		t.Fatal("default registry should include the html serializer")
	}

	ajax := httptest.NewRequest("GET", "/", nil)
	ajax.Header.Set("X-Requested-With", "XMLHttpRequest")
	s, _ := reg.TemplateOrJSON(ajax, "page", NewOptions())
	if s.Name() != "json" {
		t.Fatalf("ajax should get json, got %s", s.Name())
	}

	opts := NewOptions()
	browser := httptest.NewRequest("GET", "/", nil)
	s, _ = reg.TemplateOrJSON(browser, "page", opts)
	if s.Name() != "html" || opts.Template != "page" {
		t.Fatalf("browser should get html template, got %s %q", s.Name(), opts.Template)
	}
}

func TestWriteEmitsSerializerHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	opts := NewOptions()
	err := Write(rec, NewCSV(), []any{map[string]any{"a": "1"}}, 200, opts)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("content type: %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-Total-Rows") != "1" {
		t.Fatal("serializer headers must reach the response")
	}
}
