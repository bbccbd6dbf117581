package render

import (
	"net/http"
)

// Response is the canonical (value, status, headers) triple computed
// from whatever shape a handler returned.
type Response struct {
	Value  any
	Status int
	Header http.Header
}

// Normalize maps the permitted handler return shapes onto a Response:
//
//	value                          -> (value, 200, {})
//	int                            -> (nil, int, {})
//	Response / *Response           -> as-is (zero status becomes 200)
//	[]any{value, status}           -> (value, status, {})
//	[]any{value, headers}          -> (value, 200, headers)
//	[]any{value, status, headers}  -> (value, status, headers)
func Normalize(ret any) Response {
	switch v := ret.(type) {
	case nil:
		return Response{Status: http.StatusOK, Header: make(http.Header)}
	case Response:
		return v.filled()
	case *Response:
		if v == nil {
			return Response{Status: http.StatusOK, Header: make(http.Header)}
		}
		return v.filled()
	case int:
		return Response{Status: v, Header: make(http.Header)}
	case []any:
		return normalizeTuple(v)
	default:
		return Response{Value: ret, Status: http.StatusOK, Header: make(http.Header)}
	}
}

func (r Response) filled() Response {
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	return r
}

func normalizeTuple(tuple []any) Response {
	out := Response{Status: http.StatusOK, Header: make(http.Header)}
	if len(tuple) == 0 {
		return out
	}
	out.Value = tuple[0]
	for _, extra := range tuple[1:] {
		switch field := extra.(type) {
		case int:
			out.Status = field
		case http.Header:
			out.Header = field
		case map[string]string:
			for k, v := range field {
				out.Header.Set(k, v)
			}
		}
	}
	return out
}

// NoContent forces a 204 with no body, stripping entity headers.
func NoContent(w http.ResponseWriter) {
	w.Header().Del("Content-Type")
	w.Header().Del("Content-Length")
	w.WriteHeader(http.StatusNoContent)
}

// IsAJAX reports whether the request was made with XMLHttpRequest.
// TemplateOrJSON uses it to choose JSON for AJAX callers and the HTML
// template otherwise.
func IsAJAX(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// TemplateOrJSON picks the html serializer (with the given template)
// for browser requests and json for AJAX requests.
func (reg *Registry) TemplateOrJSON(r *http.Request, templateName string, opts *Options) (Serializer, bool) {
	if IsAJAX(r) {
		return reg.Get("json")
	}
	if opts != nil {
		opts.Template = templateName
	}
	return reg.Get("html")
}

// Write serializes value with s and writes the complete response.
// Serializer-emitted headers land on the response before the body.
func Write(w http.ResponseWriter, s Serializer, value any, status int, opts *Options) error {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Header == nil {
		opts.Header = make(http.Header)
	}
	body, err := s.Encode(value, opts)
	if err != nil {
		return err
	}
	for key, values := range opts.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	contentType := s.MimeType()
	if opts.ContentType != "" {
		contentType = opts.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
