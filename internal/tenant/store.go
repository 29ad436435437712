package tenant

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persisted-tenant lookup collaborator a Resolver consults on
// a cache miss.
type Store interface {
	FindByExternalID(ctx context.Context, externalID uuid.UUID) (*Tenant, error)
}

// PGStore is the pgx-backed Store, querying the tenants table of spec §3.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore builds a Store backed by pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create inserts a new tenant row, used by the `fhir-server tenant create`
// CLI command rather than any request path.
func (s *PGStore) Create(ctx context.Context, t Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (external_id, internal_id, name, enabled)
		   VALUES ($1, $2, $3, $4)`,
		t.ExternalID, t.InternalID, t.Name, t.Enabled,
	)
	return err
}

func (s *PGStore) FindByExternalID(ctx context.Context, externalID uuid.UUID) (*Tenant, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT external_id, internal_id, name, enabled, created_at
		   FROM tenants WHERE external_id = $1`,
		externalID,
	).Scan(&t.ExternalID, &t.InternalID, &t.Name, &t.Enabled, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MemStore is an in-memory Store fake for tests (internal/store's MemStore
// sibling), matching the teacher's test/integration convention of testing
// against a real, if in-process, implementation rather than a mock.
type MemStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Tenant
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: map[uuid.UUID]*Tenant{}}
}

// Put inserts or replaces a tenant row.
func (m *MemStore) Put(t Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := t
	m.rows[t.ExternalID] = &cp
}

func (m *MemStore) FindByExternalID(ctx context.Context, externalID uuid.UUID) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.rows[externalID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}
