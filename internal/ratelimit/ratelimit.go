// Package ratelimit enforces per-route fixed-window quotas with
// outcome-conditional deduction: a request's token is only spent once
// the response status says the profile should pay for it.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vesselkit/vessel/internal/config"
	"github.com/vesselkit/vessel/internal/kvstore"
	"github.com/vesselkit/vessel/internal/logging"
)

// Profile names drawn from configuration.
const (
	ProfileDefault = "default"
	ProfileFail    = "fail"
	ProfileSlow    = "slow"
	ProfileMedium  = "medium"
	ProfileFast    = "fast"
)

// DeductFunc decides from the response status whether a token is spent.
type DeductFunc func(status int) bool

// DeductOnSuccess spends a token for 2xx responses. Used by the slow,
// medium and fast profiles.
func DeductOnSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// DeductOnFailure spends a token for client-visible failures, excluding
// the limiter's own 429. Used by the fail profile.
func DeductOnFailure(status int) bool {
	return status >= 400 && status != http.StatusTooManyRequests
}

// Profile is a named quota: Limit tokens per Window.
type Profile struct {
	Name   string
	Limit  int
	Window time.Duration
	Deduct DeductFunc
}

// Decision is the admission verdict for one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// SetHeaders writes the standard rate-limit headers.
func (d Decision) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		retry := int(time.Until(d.Reset).Seconds())
		if retry < 1 {
			retry = 1
		}
		h.Set("Retry-After", strconv.Itoa(retry))
	}
}

// Limiter checks and spends fixed-window quotas stored in the shared
// key-value store. Safe for concurrent use.
type Limiter struct {
	store       kvstore.Store
	profiles    map[string]Profile
	bypassKey   string
	bypassValue string
	log         *logging.Logger
}

// New builds a limiter from the configured profiles.
func New(store kvstore.Store, cfg config.LimiterConfig, log *logging.Logger) (*Limiter, error) {
	if log == nil {
		log = logging.NewNop()
	}
	profiles := make(map[string]Profile, 5)
	add := func(name, rate string, deduct DeductFunc) error {
		if rate == "" {
			return nil
		}
		count, window, err := config.ParseRate(rate)
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		profiles[name] = Profile{Name: name, Limit: count, Window: window, Deduct: deduct}
		return nil
	}
	if err := add(ProfileDefault, cfg.Default, DeductOnSuccess); err != nil {
		return nil, err
	}
	if err := add(ProfileFail, cfg.Fail, DeductOnFailure); err != nil {
		return nil, err
	}
	if err := add(ProfileSlow, cfg.Slow, DeductOnSuccess); err != nil {
		return nil, err
	}
	if err := add(ProfileMedium, cfg.Medium, DeductOnSuccess); err != nil {
		return nil, err
	}
	if err := add(ProfileFast, cfg.Fast, DeductOnSuccess); err != nil {
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit::"
	}
	return &Limiter{
		store:       kvstore.Prefixed(store, prefix),
		profiles:    profiles,
		bypassKey:   cfg.BypassKey,
		bypassValue: cfg.BypassValue,
		log:         log,
	}, nil
}

// Profile returns the named profile, falling back to the default.
func (l *Limiter) Profile(name string) (Profile, bool) {
	if p, ok := l.profiles[name]; ok {
		return p, true
	}
	p, ok := l.profiles[ProfileDefault]
	return p, ok
}

// Bypassed reports whether the request carries the configured bypass
// header value. An empty bypass configuration never matches.
func (l *Limiter) Bypassed(r *http.Request) bool {
	if l.bypassKey == "" || l.bypassValue == "" {
		return false
	}
	return r.Header.Get(l.bypassKey) == l.bypassValue
}

func bucketKey(profile Profile, key string) string {
	return profile.Name + "::" + key
}

// Check inspects the bucket without spending a token.
func (l *Limiter) Check(ctx context.Context, profile Profile, key string) Decision {
	count := 0
	if val, err := l.store.Get(ctx, bucketKey(profile, key)); err == nil {
		count, _ = strconv.Atoi(val)
	}
	reset := l.reset(ctx, profile, key)
	remaining := profile.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < profile.Limit,
		Limit:     profile.Limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// Deduct spends a token when the profile's predicate accepts the
// response status. Returns whether a token was spent.
func (l *Limiter) Deduct(ctx context.Context, profile Profile, key string, status int) bool {
	if profile.Deduct != nil && !profile.Deduct(status) {
		return false
	}
	if _, err := l.store.IncrTTL(ctx, bucketKey(profile, key), profile.Window); err != nil {
		l.log.WithContext(ctx).WithError(err).Error("rate limit deduction")
		return false
	}
	return true
}

func (l *Limiter) reset(ctx context.Context, profile Profile, key string) time.Time {
	ttl, err := l.store.TTL(ctx, bucketKey(profile, key))
	if err != nil || ttl <= 0 {
		ttl = profile.Window
	}
	return time.Now().Add(ttl)
}
