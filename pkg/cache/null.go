package cache

import (
	"context"
	"time"

	"github.com/matzehuels/composerbridge/pkg/composer"
	"github.com/matzehuels/composerbridge/pkg/observability"
)

// NullStore is a Store that never caches: every call resolves.
// Useful for testing or when a full re-read of upstream is wanted.
type NullStore struct{}

// LoadOrRefresh always calls resolve.
func (NullStore) LoadOrRefresh(ctx context.Context, key string, _ time.Time, resolve Resolver) (composer.Versions, error) {
	observability.Cache().OnCacheMiss(ctx, key)
	return resolve(ctx)
}

var _ Store = NullStore{}
