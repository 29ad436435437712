package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*MemStore)(nil)
)

func TestMemStore_SaveAndFindCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true, Content: []byte(`{"id":"p1"}`)}))

	row, err := s.FindCurrent(ctx, "t1", "Patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.VersionID)
	assert.True(t, row.IsCurrent)
}

func TestMemStore_FindCurrent_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, err := s.FindCurrent(ctx, "t1", "Patient", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_UpdateMarksPriorNotCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true}))

	prior, err := s.MarkAllNotCurrent(ctx, "t1", "Patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, prior)

	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 2, IsCurrent: true}))

	row, err := s.FindCurrent(ctx, "t1", "Patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, row.VersionID)

	old, err := s.FindVersion(ctx, "t1", "Patient", "p1", 1)
	require.NoError(t, err)
	assert.False(t, old.IsCurrent)
}

func TestMemStore_SaveDuplicateVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true}))
	err := s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemStore_SoftDeleteAppendsTombstone(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true}))

	tomb, err := s.SoftDelete(ctx, "t1", "Patient", "p1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, tomb.VersionID)
	assert.True(t, tomb.IsDeleted)

	current, err := s.FindCurrent(ctx, "t1", "Patient", "p1")
	require.NoError(t, err)
	assert.True(t, current.IsDeleted)
}

func TestMemStore_SoftDeleteMissingResourceNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, err := s.SoftDelete(ctx, "t1", "Patient", "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_ListHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: false}))
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 2, IsCurrent: true}))

	history, err := s.ListHistory(ctx, "t1", "Patient", "p1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].VersionID)
	assert.Equal(t, ActionCreate, history[1].Action)
	assert.Equal(t, ActionUpdate, history[0].Action)
}

func TestMemStore_TenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true}))
	_, err := s.FindCurrent(ctx, "t2", "Patient", "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_SearchQueryFiltersByMatcher(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p1", VersionID: 1, IsCurrent: true, LastUpdated: now}))
	require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: "p2", VersionID: 1, IsCurrent: true, LastUpdated: now.Add(time.Second)}))
	require.NoError(t, s.IndexResource(ctx, "t1", "Patient", "p1", []IndexValue{{ParamName: "family", ParamType: "string", StringValue: "Smith"}}))
	require.NoError(t, s.IndexResource(ctx, "t1", "Patient", "p2", []IndexValue{{ParamName: "family", ParamType: "string", StringValue: "Jones"}}))

	q := RegisterMatcher("family=Smith", func(values []IndexValue) bool {
		for _, v := range values {
			if v.ParamName == "family" && v.StringValue == "Smith" {
				return true
			}
		}
		return false
	})

	results, total, err := s.SearchQuery(ctx, "t1", "Patient", q, Pagination{Count: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ResourceID)
}

func TestMemStore_SearchQueryPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, s.Save(ctx, Row{TenantID: "t1", ResourceType: "Patient", ResourceID: id, VersionID: 1, IsCurrent: true, LastUpdated: now.Add(time.Duration(i) * time.Second)}))
	}
	results, total, err := s.SearchQuery(ctx, "t1", "Patient", CompiledQuery{}, Pagination{Count: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, results, 2)
}
