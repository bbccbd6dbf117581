// Package kvstore provides the shared key-value abstraction backing ban
// counters, rate-limit buckets and the token deny list. Two backends are
// provided: an in-process LRU with per-entry TTL and a Redis client.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the uniform get/set/incr/expire/del contract. All writes
// required to be atomic (IncrTTL) are atomic per backend.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only when absent; reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr increments the integer value at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// IncrTTL increments and, when the key is created by this call, applies
	// ttl. Increment and expire execute atomically.
	IncrTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime; zero means no expiry is set.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, key string) error
}

// Prefixed returns a Store that namespaces every key with prefix.
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{inner: s, prefix: prefix}
}

type prefixed struct {
	inner  Store
	prefix string
}

func (p *prefixed) key(k string) string { return p.prefix + k }

func (p *prefixed) Get(ctx context.Context, key string) (string, error) {
	return p.inner.Get(ctx, p.key(key))
}

func (p *prefixed) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return p.inner.Set(ctx, p.key(key), value, ttl)
}

func (p *prefixed) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return p.inner.SetNX(ctx, p.key(key), value, ttl)
}

func (p *prefixed) Incr(ctx context.Context, key string) (int64, error) {
	return p.inner.Incr(ctx, p.key(key))
}

func (p *prefixed) IncrTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return p.inner.IncrTTL(ctx, p.key(key), ttl)
}

func (p *prefixed) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return p.inner.Expire(ctx, p.key(key), ttl)
}

func (p *prefixed) TTL(ctx context.Context, key string) (time.Duration, error) {
	return p.inner.TTL(ctx, p.key(key))
}

func (p *prefixed) Del(ctx context.Context, key string) error {
	return p.inner.Del(ctx, p.key(key))
}
