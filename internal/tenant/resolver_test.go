package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_MultiTenancyDisabledIgnoresHeader(t *testing.T) {
	r := NewResolver(NewMemStore(), false, "default")
	got, err := r.Resolve(context.Background(), "not-a-uuid-at-all")
	require.NoError(t, err)
	assert.Equal(t, "default", got)
}

func TestResolve_BadUUIDIsBadRequest(t *testing.T) {
	r := NewResolver(NewMemStore(), true, "default")
	_, err := r.Resolve(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrBadExternalID)
}

func TestResolve_UnknownTenantNotFound(t *testing.T) {
	r := NewResolver(NewMemStore(), true, "default")
	_, err := r.Resolve(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestResolve_DisabledTenantForbidden(t *testing.T) {
	store := NewMemStore()
	ext := uuid.New()
	store.Put(Tenant{ExternalID: ext, InternalID: "t1", Enabled: false})

	r := NewResolver(store, true, "default")
	_, err := r.Resolve(context.Background(), ext.String())
	assert.ErrorIs(t, err, ErrTenantDisabled)
}

func TestResolve_CachesHitAcrossCalls(t *testing.T) {
	store := NewMemStore()
	ext := uuid.New()
	store.Put(Tenant{ExternalID: ext, InternalID: "t1", Enabled: true})

	r := NewResolver(store, true, "default")
	got, err := r.Resolve(context.Background(), ext.String())
	require.NoError(t, err)
	assert.Equal(t, "t1", got)

	// Mutate the backing store directly; a cache hit must still win.
	store.Put(Tenant{ExternalID: ext, InternalID: "t1-renamed", Enabled: true})
	got, err = r.Resolve(context.Background(), ext.String())
	require.NoError(t, err)
	assert.Equal(t, "t1", got)
}

func TestResolve_ExpiredEntryFallsThroughToStore(t *testing.T) {
	store := NewMemStore()
	ext := uuid.New()
	store.Put(Tenant{ExternalID: ext, InternalID: "t1", Enabled: true})

	r := NewResolver(store, true, "default")
	r.SetTTL(time.Millisecond)
	_, err := r.Resolve(context.Background(), ext.String())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	store.Put(Tenant{ExternalID: ext, InternalID: "t1-renamed", Enabled: true})

	got, err := r.Resolve(context.Background(), ext.String())
	require.NoError(t, err)
	assert.Equal(t, "t1-renamed", got)
}

func TestInvalidate_ForcesStoreLookup(t *testing.T) {
	store := NewMemStore()
	ext := uuid.New()
	store.Put(Tenant{ExternalID: ext, InternalID: "t1", Enabled: true})

	r := NewResolver(store, true, "default")
	_, err := r.Resolve(context.Background(), ext.String())
	require.NoError(t, err)

	store.Put(Tenant{ExternalID: ext, InternalID: "t1-renamed", Enabled: true})
	r.Invalidate(ext)

	got, err := r.Resolve(context.Background(), ext.String())
	require.NoError(t, err)
	assert.Equal(t, "t1-renamed", got)
}

func TestClear_DropsAllEntries(t *testing.T) {
	store := NewMemStore()
	a, b := uuid.New(), uuid.New()
	store.Put(Tenant{ExternalID: a, InternalID: "a1", Enabled: true})
	store.Put(Tenant{ExternalID: b, InternalID: "b1", Enabled: true})

	r := NewResolver(store, true, "default")
	_, _ = r.Resolve(context.Background(), a.String())
	_, _ = r.Resolve(context.Background(), b.String())

	store.Put(Tenant{ExternalID: a, InternalID: "a2", Enabled: true})
	r.Clear()

	got, err := r.Resolve(context.Background(), a.String())
	require.NoError(t, err)
	assert.Equal(t, "a2", got)
}

func TestSetTTL_NonPositiveResetsToDefault(t *testing.T) {
	r := NewResolver(NewMemStore(), true, "default")
	r.SetTTL(0)
	assert.Equal(t, DefaultTTL, r.ttlDuration())
	r.SetTTL(-1)
	assert.Equal(t, DefaultTTL, r.ttlDuration())
}
