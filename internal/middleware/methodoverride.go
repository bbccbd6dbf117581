package middleware

import (
	"net/http"
	"strings"
)

const (
	// OverrideHeader is consulted first for a replacement method.
	OverrideHeader = "X-HTTP-Method-Override"
	// OverrideParam is the query-string fallback.
	OverrideParam = "_method_override"
)

// MethodOverride rewrites the request method when the original method is
// in the allow-list and a valid override is supplied via header or query
// parameter. GET is never produced as an override target source and GET
// requests are never rewritten.
func MethodOverride(allowed []string) func(http.Handler) http.Handler {
	allowSet := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		allowSet[strings.ToUpper(m)] = true
	}
	if len(allowSet) == 0 {
		allowSet[http.MethodPost] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || !allowSet[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			override := strings.ToUpper(strings.TrimSpace(r.Header.Get(OverrideHeader)))
			if override == "" {
				override = strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(OverrideParam)))
			}
			if override != "" && override != r.Method && validMethod(override) {
				r.Method = override
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
