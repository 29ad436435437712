// Package store implements the ResourceStore (C6): tenant-scoped CRUD,
// history, soft-delete, and search-index persistence primitives over the
// resources/search_index tables of spec §3.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel conditions raised by Store, mapped by internal/service onto
// spec §7's status table.
var (
	ErrConflict = errors.New("store: optimistic concurrency conflict")
	ErrNotFound = errors.New("store: resource not found")
)

// Row is one row of the resources table (StoredResource, spec §3): one row
// per version of a logical resource.
type Row struct {
	TenantID     string
	ResourceType string
	ResourceID   string
	VersionID    int
	FHIRVersion  string
	IsCurrent    bool
	IsDeleted    bool
	Content      []byte
	LastUpdated  time.Time
	CreatedAt    time.Time
}

// Action tags a HistoryRecord with the interaction that produced it.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// HistoryRecord is identical in shape to Row but additionally carries the
// operation tag, per spec §3.
type HistoryRecord struct {
	Row
	Action Action
}

// IndexValue is one extracted parameter value destined for the
// search_index table (spec §3's SearchIndexRow), keyed by parameter name
// and type; exactly one of the value groups below is populated depending
// on ParamType.
type IndexValue struct {
	ParamName string
	ParamType string // token, string, date, number, quantity, reference, uri

	StringValue           string
	StringValueNormalized string

	DateStart time.Time
	DateEnd   time.Time

	NumberValue float64

	QuantityValue  float64
	QuantityUnit   string
	QuantitySystem string

	TokenSystem string
	TokenCode   string
	TokenText   string

	ReferenceType string
	ReferenceID   string

	URIValue string
}

// CompiledQuery is a searchengine-built, already-parameterized predicate
// over the search_index table plus a sort order. Store never inspects
// URL-supplied strings directly; searchengine is the only producer of a
// CompiledQuery, so all bound values arrive here pre-parameterized.
type CompiledQuery struct {
	// Where is a SQL boolean expression referencing only search_index
	// columns and placeholders ($1, $2, ...), ANDed/ORed by the caller.
	Where string
	Args  []interface{}
	Sort  []SortClause
}

// SortClause orders search results by an allowlisted indexed column.
type SortClause struct {
	Column     string
	Descending bool
}

// Pagination bounds a search result page. Count is already clamped by the
// caller (internal/httpapi's pageParams) per spec §9 (_count=0 clamps to 1,
// >1000 clamps).
type Pagination struct {
	Count  int
	Offset int
}

// Store is the C6 ResourceStore primitive set, scoped by tenant.
type Store interface {
	// Save inserts a new current row. Callers must have already called
	// MarkAllNotCurrent for the same logical resource in the same
	// transaction so that at most one isCurrent=true row ever exists.
	Save(ctx context.Context, row Row) error

	// MarkAllNotCurrent clears isCurrent for every row of a logical
	// resource. Returns the version number of the row that was current
	// before this call, or 0 if none existed.
	MarkAllNotCurrent(ctx context.Context, tenantID, resourceType, resourceID string) (int, error)

	// MaxVersion returns the highest versionId stored for a logical
	// resource, or 0 if none exists.
	MaxVersion(ctx context.Context, tenantID, resourceType, resourceID string) (int, error)

	// FindCurrent returns the current row, or ErrNotFound. The row may
	// have IsDeleted=true (tombstone); callers performing a read
	// interaction must translate that into spec §7's "Deleted (tombstone)
	// on read" condition themselves.
	FindCurrent(ctx context.Context, tenantID, resourceType, resourceID string) (*Row, error)

	// FindVersion returns a specific historical version, or ErrNotFound.
	FindVersion(ctx context.Context, tenantID, resourceType, resourceID string, version int) (*Row, error)

	// SoftDelete appends a tombstone row (IsDeleted=true) as the new
	// current version, atomically with marking prior rows not current.
	SoftDelete(ctx context.Context, tenantID, resourceType, resourceID string, at time.Time) (*Row, error)

	// ListHistory returns every version of a logical resource, newest
	// first.
	ListHistory(ctx context.Context, tenantID, resourceType, resourceID string) ([]HistoryRecord, error)

	// IndexResource replaces the search_index rows for a logical resource
	// with the supplied set (lifecycle: rebuilt on every create/update/
	// patch, removed through DeleteIndex when a resource is soft-deleted;
	// spec §3).
	IndexResource(ctx context.Context, tenantID, resourceType, resourceID string, values []IndexValue) error

	// DeleteIndex removes all search_index rows for a logical resource.
	DeleteIndex(ctx context.Context, tenantID, resourceType, resourceID string) error

	// SearchQuery executes a compiled predicate against the search_index
	// table joined back to the current resource row, returning a page of
	// matching rows and the total match count.
	SearchQuery(ctx context.Context, tenantID, resourceType string, q CompiledQuery, page Pagination) ([]Row, int, error)
}
