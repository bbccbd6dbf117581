package token

import (
	"context"
	"errors"
	"time"

	"github.com/vesselkit/vessel/internal/kvstore"
)

const denyKeyPrefix = "token_revoked::"

// KVDenyList stores deny entries in the shared key-value store. Keys
// expire with the revoked token, so entries garbage-collect themselves.
type KVDenyList struct {
	store kvstore.Store
}

// NewKVDenyList wraps a store.
func NewKVDenyList(store kvstore.Store) *KVDenyList {
	return &KVDenyList{store: store}
}

func (d *KVDenyList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return d.store.Set(ctx, denyKeyPrefix+jti, "true", ttl)
}

func (d *KVDenyList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	val, err := d.store.Get(ctx, denyKeyPrefix+jti)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}
