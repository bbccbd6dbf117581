package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vesselkit/vessel/internal/logging"
	"github.com/vesselkit/vessel/internal/requestid"
)

// RequestID resolves the correlation id for each request, stores it in
// the context, echoes it on the response, and emits the access-log line
// once the request completes.
func RequestID(prop *requestid.Propagator, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := prop.FromRequest(r)
			ctx := logging.WithRequestID(r.Context(), id)
			ctx = logging.WithClientIP(ctx, ClientIP(r))
			r = r.WithContext(ctx)

			w.Header().Set(prop.Header(), id)

			wrapped := newStatusWriter(w)
			next.ServeHTTP(wrapped, r)

			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.Status(), time.Since(start))
		})
	}
}

// ClientIP returns the request's logical source address. Proxy unwrap
// runs earlier in the stack, so RemoteAddr already reflects the trusted
// forwarded-for chain; only the port needs stripping.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}
