// Package logging provides structured logging for the application skeleton.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	// RequestIDKey carries the correlation id for the current request.
	RequestIDKey contextKey = "request_id"
	// ClientIPKey carries the unwrapped client address.
	ClientIPKey contextKey = "client_ip"
	// IdentityKey carries the authenticated identity, when present.
	IdentityKey contextKey = "identity"
)

// Logger wraps zerolog with request-scoped field injection.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger for the named service. Level is one of
// debug|info|warn|error (case-insensitive, default info). Format is
// "json" or "console".
func New(service, level, format string) *Logger {
	var out io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Logger().
		Level(parseLevel(level))

	return &Logger{zl: zl}
}

// NewDefault creates an info-level JSON logger.
func NewDefault(service string) *Logger {
	return New(service, "info", "json")
}

// NewNop creates a logger that discards everything. Intended for tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithContext returns a logger carrying the request id, client ip and
// identity found in ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	zc := l.zl.With()
	if id := GetRequestID(ctx); id != "" {
		zc = zc.Str("request_id", id)
	}
	if ip := GetClientIP(ctx); ip != "" {
		zc = zc.Str("client_ip", ip)
	}
	if sub := GetIdentity(ctx); sub != "" {
		zc = zc.Str("identity", sub)
	}
	return &Logger{zl: zc.Logger()}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithField returns a logger with one extra field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a logger with extra fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	zc := l.zl.With()
	for k, v := range fields {
		zc = zc.Interface(k, v)
	}
	return &Logger{zl: zc.Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// LogRequest emits the access-log line for a completed request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).zl.Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", duration).
		Msg("request completed")
}

// LogSecurityEvent records an abuse-control decision (ban, rate limit, auth
// failure) at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]any) {
	l.WithContext(ctx).WithFields(fields).zl.Warn().Str("event", event).Msg("security event")
}

// WithRequestID stores the correlation id in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the correlation id from the context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientIP stores the unwrapped client address in the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP extracts the client address from the context.
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ClientIPKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentity stores the authenticated identity in the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity extracts the authenticated identity from the context.
func GetIdentity(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityKey).(string); ok {
		return v
	}
	return ""
}
