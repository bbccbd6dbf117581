package problem

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/vesselkit/vessel/internal/errors"
)

// enrich applies per-error-kind additions to the document: structured
// context derived from the headers the error carries.
func enrich(doc *Document, se *apperrors.ServiceError, headers http.Header) {
	details := func() map[string]any {
		m, _ := doc.Response.(map[string]any)
		if m == nil {
			m = make(map[string]any)
			doc.Response = m
		}
		return m
	}

	switch {
	case doc.Status >= 300 && doc.Status < 400:
		if loc := headers.Get("Location"); loc != "" {
			details()["new_url"] = loc
		}

	case doc.Status == http.StatusMethodNotAllowed:
		if allow := headers.Get("Allow"); allow != "" {
			var methods []string
			for _, m := range strings.Split(allow, ",") {
				methods = append(methods, strings.TrimSpace(m))
			}
			details()["allowed"] = methods
		}

	case doc.Status == http.StatusUnauthorized:
		if challenge := headers.Get("WWW-Authenticate"); challenge != "" {
			details()["authenticate"] = parseChallenges(challenge)
		}

	case doc.Status == http.StatusRequestedRangeNotSatisfiable:
		if cr := headers.Get("Content-Range"); cr != "" {
			units, length := parseContentRange(cr)
			details()["units"] = units
			details()["length"] = length
		}

	case doc.Status == http.StatusTooManyRequests || doc.Status == http.StatusServiceUnavailable:
		if retry := headers.Get("Retry-After"); retry != "" {
			// Delta seconds are rewritten as an HTTP-date.
			if secs, err := strconv.Atoi(retry); err == nil {
				headers.Set("Retry-After", time.Now().Add(time.Duration(secs)*time.Second).UTC().Format(http.TimeFormat))
			}
			details()["retry_after"] = headers.Get("Retry-After")
		}
	}

	if len(se.Details) > 0 {
		m := details()
		for k, v := range se.Details {
			m[k] = v
		}
	}
}

// parseChallenges splits a WWW-Authenticate value into structured
// entries: scheme plus its auth params.
func parseChallenges(header string) []map[string]any {
	var out []map[string]any
	for _, challenge := range splitChallenges(header) {
		fields := strings.SplitN(challenge, " ", 2)
		entry := map[string]any{"scheme": fields[0]}
		if len(fields) == 2 {
			params := make(map[string]string)
			for _, kv := range strings.Split(fields[1], ",") {
				kv = strings.TrimSpace(kv)
				if eq := strings.Index(kv, "="); eq > 0 {
					params[kv[:eq]] = strings.Trim(kv[eq+1:], `"`)
				}
			}
			if len(params) > 0 {
				entry["params"] = params
			}
		}
		out = append(out, entry)
	}
	return out
}

// splitChallenges separates comma-joined challenges without splitting
// inside quoted auth params.
func splitChallenges(header string) []string {
	var (
		parts    []string
		start    int
		inQuotes bool
	)
	for i := 0; i < len(header); i++ {
		switch header[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if inQuotes {
				continue
			}
			// A new challenge starts with "<scheme> " or "<scheme>,";
			// an auth param always contains '='. Look ahead to decide.
			rest := strings.TrimSpace(header[i+1:])
			token := rest
			if sp := strings.IndexAny(rest, " ,"); sp >= 0 {
				token = rest[:sp]
			}
			if token != "" && !strings.Contains(token, "=") {
				parts = append(parts, strings.TrimSpace(header[start:i]))
				start = i + 1
			}
		}
	}
	if trimmed := strings.TrimSpace(header[start:]); trimmed != "" {
		parts = append(parts, trimmed)
	}
	return parts
}

// parseContentRange extracts units and total length from a value such
// as "bytes */1234".
func parseContentRange(cr string) (units string, length int64) {
	fields := strings.Fields(cr)
	if len(fields) == 0 {
		return "", 0
	}
	units = fields[0]
	if len(fields) > 1 {
		if slash := strings.Index(fields[1], "/"); slash >= 0 {
			length, _ = strconv.ParseInt(fields[1][slash+1:], 10, 64)
		}
	}
	return units, length
}
