package render

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

type acceptEntry struct {
	mime string
	q    float64
	pos  int
}

// parseAccept returns the acceptable media ranges ordered by quality,
// then by position.
func parseAccept(header string) []acceptEntry {
	var entries []acceptEntry
	for pos, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ";")
		entry := acceptEntry{mime: strings.TrimSpace(fields[0]), q: 1.0, pos: pos}
		for _, param := range fields[1:] {
			param = strings.TrimSpace(param)
			if strings.HasPrefix(param, "q=") {
				if q, err := strconv.ParseFloat(param[2:], 64); err == nil {
					entry.q = q
				}
			}
		}
		if entry.q > 0 {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].q != entries[j].q {
			return entries[i].q > entries[j].q
		}
		return entries[i].pos < entries[j].pos
	})
	return entries
}

func mimeMatches(pattern, mime string) bool {
	if pattern == "*/*" || pattern == mime {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(mime, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func stripParams(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(mime)
}

// OnAccept negotiates a serializer from the Accept header. Candidate
// names default to every registered serializer. The first serializer
// whose mime type satisfies the best-quality acceptable range wins.
// With strict set, an unsatisfiable Accept yields ok=false and the
// caller responds 406; otherwise the fallback serializer is returned.
func (r *Registry) OnAccept(req *http.Request, fallback string, candidates []string, strict bool) (Serializer, bool) {
	if len(candidates) == 0 {
		candidates = r.order
	}
	if fallback == "" {
		fallback = r.defaultName
	}

	accept := req.Header.Get("Accept")
	if strings.TrimSpace(accept) == "" {
		s, ok := r.Get(fallback)
		return s, ok
	}

	for _, entry := range parseAccept(accept) {
		for _, name := range candidates {
			s, ok := r.Get(name)
			if !ok {
				continue
			}
			if mimeMatches(entry.mime, s.MimeType()) {
				return s, true
			}
		}
	}

	if strict {
		return nil, false
	}
	s, ok := r.Get(fallback)
	return s, ok
}

// OnFormat selects a serializer from a query parameter, e.g.
// ?format=xml. Falls back to the default when absent or unknown.
func (r *Registry) OnFormat(req *http.Request, key string) (Serializer, bool) {
	if key == "" {
		key = "format"
	}
	if name := req.URL.Query().Get(key); name != "" {
		if s, ok := r.Get(name); ok {
			return s, true
		}
	}
	s := r.Default()
	return s, s != nil
}
