package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store fake, grounded on the same philosophy as
// internal/tenant's MemStore: real multi-row, multi-version state without a
// live Postgres, used by spec §8's seed end-to-end tests.
type MemStore struct {
	mu   sync.Mutex
	rows map[string][]Row // key: tenant|type|id, versions appended in order
	idx  map[string][]IndexValue
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		rows: make(map[string][]Row),
		idx:  make(map[string][]IndexValue),
	}
}

func memKey(tenantID, resourceType, resourceID string) string {
	return tenantID + "|" + resourceType + "|" + resourceID
}

func (m *MemStore) Save(ctx context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(row.TenantID, row.ResourceType, row.ResourceID)
	for _, existing := range m.rows[key] {
		if existing.VersionID == row.VersionID {
			return ErrConflict
		}
	}
	if row.IsCurrent {
		for i := range m.rows[key] {
			m.rows[key][i].IsCurrent = false
		}
	}
	m.rows[key] = append(m.rows[key], row)
	return nil
}

func (m *MemStore) MarkAllNotCurrent(ctx context.Context, tenantID, resourceType, resourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(tenantID, resourceType, resourceID)
	prior := 0
	for i := range m.rows[key] {
		if m.rows[key][i].IsCurrent {
			prior = m.rows[key][i].VersionID
			m.rows[key][i].IsCurrent = false
		}
	}
	return prior, nil
}

func (m *MemStore) MaxVersion(ctx context.Context, tenantID, resourceType, resourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(tenantID, resourceType, resourceID)
	max := 0
	for _, r := range m.rows[key] {
		if r.VersionID > max {
			max = r.VersionID
		}
	}
	return max, nil
}

func (m *MemStore) FindCurrent(ctx context.Context, tenantID, resourceType, resourceID string) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(tenantID, resourceType, resourceID)
	for _, r := range m.rows[key] {
		if r.IsCurrent {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) FindVersion(ctx context.Context, tenantID, resourceType, resourceID string, version int) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(tenantID, resourceType, resourceID)
	for _, r := range m.rows[key] {
		if r.VersionID == version {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) SoftDelete(ctx context.Context, tenantID, resourceType, resourceID string, at time.Time) (*Row, error) {
	prior, _ := m.MaxVersion(ctx, tenantID, resourceType, resourceID)
	if prior == 0 {
		return nil, ErrNotFound
	}
	if _, err := m.MarkAllNotCurrent(ctx, tenantID, resourceType, resourceID); err != nil {
		return nil, err
	}
	tomb := Row{
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		VersionID:    prior + 1,
		IsCurrent:    true,
		IsDeleted:    true,
		Content:      []byte("null"),
		LastUpdated:  at,
		CreatedAt:    at,
	}
	if err := m.Save(ctx, tomb); err != nil {
		return nil, err
	}
	return &tomb, nil
}

func (m *MemStore) ListHistory(ctx context.Context, tenantID, resourceType, resourceID string) ([]HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(tenantID, resourceType, resourceID)
	rows := append([]Row(nil), m.rows[key]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].VersionID > rows[j].VersionID })

	out := make([]HistoryRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, HistoryRecord{Row: r, Action: actionFor(r, 0)})
	}
	return out, nil
}

func (m *MemStore) IndexResource(ctx context.Context, tenantID, resourceType, resourceID string, values []IndexValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx[memKey(tenantID, resourceType, resourceID)] = values
	return nil
}

func (m *MemStore) DeleteIndex(ctx context.Context, tenantID, resourceType, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idx, memKey(tenantID, resourceType, resourceID))
	return nil
}

// MatchFunc evaluates whether a logical resource's indexed values satisfy a
// MemStore-resident query. Tests build these directly; the pgx path
// compiles the equivalent predicate into SQL instead.
type MatchFunc func(values []IndexValue) bool

// memMatchPrefix marks a CompiledQuery whose Where field names a registered
// MatchFunc instead of SQL, since MemStore's SearchQuery cannot evaluate a
// pgx CompiledQuery's raw SQL fragment. RegisterMatcher builds such a query:
// the prefix followed by the matcher's key, looked up here. A query without
// the prefix matches every current row.
const memMatchPrefix = "memmatch:"

var memMatchers sync.Map // key string -> MatchFunc

// RegisterMatcher stores a MatchFunc under key and returns a CompiledQuery
// that MemStore.SearchQuery will route to it. Test-only helper.
func RegisterMatcher(key string, fn MatchFunc) CompiledQuery {
	memMatchers.Store(key, fn)
	return CompiledQuery{Where: memMatchPrefix + key}
}

func (m *MemStore) SearchQuery(ctx context.Context, tenantID, resourceType string, query CompiledQuery, page Pagination) ([]Row, int, error) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matcher MatchFunc
	if strings.HasPrefix(query.Where, memMatchPrefix) {
		if fn, ok := memMatchers.Load(strings.TrimPrefix(query.Where, memMatchPrefix)); ok {
			matcher = fn.(MatchFunc)
		}
	}

	prefix := tenantID + "|" + resourceType + "|"
	var matched []Row
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var current *Row
		for i := range m.rows[key] {
			if m.rows[key][i].IsCurrent {
				current = &m.rows[key][i]
				break
			}
		}
		if current == nil {
			continue
		}
		if matcher != nil && !matcher(m.idx[key]) {
			continue
		}
		matched = append(matched, *current)
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].LastUpdated.After(matched[j].LastUpdated) })

	total := len(matched)
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + page.Count
	if page.Count <= 0 || end > total {
		end = total
	}
	return matched[start:end], total, nil
}
