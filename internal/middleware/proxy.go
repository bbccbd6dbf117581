package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vesselkit/vessel/internal/config"
)

type forwardedKey string

// ForwardedOriginalsKey carries the pre-unwrap header values so handlers
// can inspect what the proxy chain reported.
const ForwardedOriginalsKey forwardedKey = "forwarded_originals"

// ForwardedOriginals preserves the raw X-Forwarded-* values replaced by
// the unwrap middleware.
type ForwardedOriginals struct {
	RemoteAddr string
	Scheme     string
	Host       string
	For        string
	Proto      string
	Port       string
	Prefix     string
}

// ForceHTTPS rewrites the URL scheme to https unconditionally. Only
// mount it when no trustworthy proxy terminates TLS upstream.
func ForceHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Scheme = "https"
		next.ServeHTTP(w, r)
	})
}

// ProxyUnwrap replaces request fields from X-Forwarded-* headers
// according to per-header trust counts. A trust count of N accepts the
// value contributed by the Nth hop from the right; zero leaves the
// field untouched. Original values are preserved in the context.
func ProxyUnwrap(cfg config.ProxyConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Trusted() {
				next.ServeHTTP(w, r)
				return
			}

			orig := ForwardedOriginals{
				RemoteAddr: r.RemoteAddr,
				Scheme:     r.URL.Scheme,
				Host:       r.Host,
				For:        r.Header.Get("X-Forwarded-For"),
				Proto:      r.Header.Get("X-Forwarded-Proto"),
				Port:       r.Header.Get("X-Forwarded-Port"),
				Prefix:     r.Header.Get("X-Forwarded-Prefix"),
			}

			if v := trustedHop(orig.For, cfg.ForCount); v != "" {
				r.RemoteAddr = v
			}
			if v := trustedHop(orig.Proto, cfg.ProtoCount); v != "" {
				r.URL.Scheme = v
			}
			if v := trustedHop(r.Header.Get("X-Forwarded-Host"), cfg.HostCount); v != "" {
				r.Host = v
			}
			if v := trustedHop(orig.Port, cfg.PortCount); v != "" && r.URL.Port() == "" {
				// Port folds into Host when the unwrapped host has none.
				if !strings.Contains(r.Host, ":") {
					r.Host = r.Host + ":" + v
				}
			}
			if v := trustedHop(orig.Prefix, cfg.PrefixCount); v != "" {
				r.URL.Path = singleJoin(v, r.URL.Path)
			}

			ctx := context.WithValue(r.Context(), ForwardedOriginalsKey, orig)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// trustedHop picks the element `count` hops from the right of a
// comma-separated header value.
func trustedHop(value string, count int) string {
	if count <= 0 || value == "" {
		return ""
	}
	parts := strings.Split(value, ",")
	idx := len(parts) - count
	if idx < 0 {
		idx = 0
	}
	return strings.TrimSpace(parts[idx])
}

func singleJoin(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}

// OriginalsFromContext returns the preserved pre-unwrap values.
func OriginalsFromContext(ctx context.Context) (ForwardedOriginals, bool) {
	orig, ok := ctx.Value(ForwardedOriginalsKey).(ForwardedOriginals)
	return orig, ok
}
