// Package testutil provides mock implementations shared by tests across
// packages.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vesselkit/vessel/internal/kvstore"
)

// FakeDenyList is an in-memory token deny list that records the expiry
// of each revocation.
type FakeDenyList struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewFakeDenyList creates an empty deny list.
func NewFakeDenyList() *FakeDenyList {
	return &FakeDenyList{revoked: make(map[string]time.Time)}
}

// Revoke records jti until ttl elapses.
func (d *FakeDenyList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[jti] = time.Now().Add(ttl)
	return nil
}

// IsRevoked reports whether jti is currently revoked.
func (d *FakeDenyList) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	until, ok := d.revoked[jti]
	return ok && time.Now().Before(until), nil
}

// RevokedUntil returns the recorded expiry for jti, for asserting on the
// TTL a caller supplied.
func (d *FakeDenyList) RevokedUntil(jti string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	until, ok := d.revoked[jti]
	return until, ok
}

// FlakyStore wraps a kvstore.Store and fails every operation once
// FailAll is set, for exercising degraded-backend paths.
type FlakyStore struct {
	kvstore.Store
	mu      sync.Mutex
	failAll bool
}

// NewFlakyStore wraps inner; a nil inner gets a fresh memory store.
func NewFlakyStore(inner kvstore.Store) *FlakyStore {
	if inner == nil {
		inner = kvstore.NewMemory(0)
	}
	return &FlakyStore{Store: inner}
}

// FailAll toggles whole-store failure.
func (f *FlakyStore) FailAll(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

func (f *FlakyStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failAll
}

var errFlaky = fmt.Errorf("store unavailable")

// Get fails when FailAll is set, otherwise delegates.
func (f *FlakyStore) Get(ctx context.Context, key string) (string, error) {
	if f.failing() {
		return "", errFlaky
	}
	return f.Store.Get(ctx, key)
}

// Set fails when FailAll is set, otherwise delegates.
func (f *FlakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.failing() {
		return errFlaky
	}
	return f.Store.Set(ctx, key, value, ttl)
}

// IncrTTL fails when FailAll is set, otherwise delegates.
func (f *FlakyStore) IncrTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.failing() {
		return 0, errFlaky
	}
	return f.Store.IncrTTL(ctx, key, ttl)
}
