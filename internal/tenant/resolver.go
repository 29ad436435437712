package tenant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type cacheEntry struct {
	internalID string
	expiresAt  time.Time
}

// Resolver implements the TenantResolver (C3). When multi-tenancy is
// disabled it always returns the configured default internal ID without
// touching the store or the cache. Otherwise it maintains a lock-free
// read path over a sync.Map of externalID -> cacheEntry, falling through
// to Store on a miss or an expired entry, per spec §4.3 and spec §5's
// "concurrent map with atomic put/get, lock-free read path".
type Resolver struct {
	store       Store
	defaultID   string
	multiTenant bool
	ttl         atomic.Int64 // time.Duration, nanoseconds
	cache       sync.Map     // uuid.UUID -> cacheEntry
}

// NewResolver builds a Resolver. When multiTenant is false, Resolve always
// returns defaultInternalID regardless of any header value.
func NewResolver(store Store, multiTenant bool, defaultInternalID string) *Resolver {
	r := &Resolver{store: store, defaultID: defaultInternalID, multiTenant: multiTenant}
	r.ttl.Store(int64(DefaultTTL))
	return r
}

// SetTTL changes the cache entry lifetime for subsequently inserted
// entries. A zero or negative d resets to DefaultTTL.
func (r *Resolver) SetTTL(d time.Duration) {
	if d <= 0 {
		d = DefaultTTL
	}
	r.ttl.Store(int64(d))
}

func (r *Resolver) ttlDuration() time.Duration {
	return time.Duration(r.ttl.Load())
}

// Resolve parses headerValue as a UUID and returns the corresponding
// internal tenant id, per spec §4.3's four-step algorithm. If multi-tenancy
// is disabled, headerValue is ignored and the configured default is
// returned unconditionally.
func (r *Resolver) Resolve(ctx context.Context, headerValue string) (string, error) {
	if !r.multiTenant {
		return r.defaultID, nil
	}

	externalID, err := uuid.Parse(headerValue)
	if err != nil {
		return "", ErrBadExternalID
	}

	if v, ok := r.cache.Load(externalID); ok {
		entry := v.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.internalID, nil
		}
		r.cache.Delete(externalID)
	}

	t, err := r.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if !t.Enabled {
		return "", ErrTenantDisabled
	}

	r.cache.Store(externalID, cacheEntry{
		internalID: t.InternalID,
		expiresAt:  time.Now().Add(r.ttlDuration()),
	})
	return t.InternalID, nil
}

// Invalidate drops a single cached entry. Callers invoke this after a
// tenant create/update/disable/delete so the next Resolve re-consults the
// store rather than serving a stale cache hit for up to the TTL window.
func (r *Resolver) Invalidate(externalID uuid.UUID) {
	r.cache.Delete(externalID)
}

// Clear drops every cached entry.
func (r *Resolver) Clear() {
	r.cache.Range(func(key, _ any) bool {
		r.cache.Delete(key)
		return true
	})
}
