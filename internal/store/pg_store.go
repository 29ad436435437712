package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fhir-core/server/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// uniqueViolation is the Postgres SQLSTATE for a violated unique or
// exclusion constraint; raised by the partial unique index on
// (tenant_id, resource_type, resource_id) where is_current.
const uniqueViolation = "23505"

// PGStore is the pgx-backed ResourceStore, grounded on the teacher's
// HistoryRepository (internal/platform/fhir/history.go): it resolves its
// connection the same way, preferring an in-flight transaction over the
// bare pooled connection so that C9's transaction bundles and C8's plain
// writes share one commit boundary.
type PGStore struct{}

// NewPGStore builds a PGStore. It carries no pool reference of its own;
// every call resolves its connection from ctx via internal/platform/db.
func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) conn(ctx context.Context) (querier, error) {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx, nil
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("store: no database connection in context")
}

func (s *PGStore) Save(ctx context.Context, row Row) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO resources
			(tenant_id, resource_type, resource_id, version_id, fhir_version, is_current, is_deleted, content, last_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		row.TenantID, row.ResourceType, row.ResourceID, row.VersionID, row.FHIRVersion,
		row.IsCurrent, row.IsDeleted, row.Content, row.LastUpdated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return fmt.Errorf("store: save row: %w", err)
	}
	return nil
}

func (s *PGStore) MarkAllNotCurrent(ctx context.Context, tenantID, resourceType, resourceID string) (int, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var prior int
	err = q.QueryRow(ctx, `
		SELECT version_id FROM resources
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3 AND is_current
		FOR UPDATE`,
		tenantID, resourceType, resourceID).Scan(&prior)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: lock current row: %w", err)
	}
	_, err = q.Exec(ctx, `
		UPDATE resources SET is_current = false
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3 AND is_current`,
		tenantID, resourceType, resourceID)
	if err != nil {
		return 0, fmt.Errorf("store: mark not current: %w", err)
	}
	return prior, nil
}

func (s *PGStore) MaxVersion(ctx context.Context, tenantID, resourceType, resourceID string) (int, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var max int
	err = q.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_id), 0) FROM resources
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3`,
		tenantID, resourceType, resourceID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: max version: %w", err)
	}
	return max, nil
}

func (s *PGStore) scanRow(row pgx.Row) (*Row, error) {
	var r Row
	err := row.Scan(&r.TenantID, &r.ResourceType, &r.ResourceID, &r.VersionID, &r.FHIRVersion,
		&r.IsCurrent, &r.IsDeleted, &r.Content, &r.LastUpdated, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan row: %w", err)
	}
	return &r, nil
}

const selectRowColumns = `tenant_id, resource_type, resource_id, version_id, fhir_version, is_current, is_deleted, content, last_updated, created_at`

func (s *PGStore) FindCurrent(ctx context.Context, tenantID, resourceType, resourceID string) (*Row, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, `
		SELECT `+selectRowColumns+` FROM resources
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3 AND is_current`,
		tenantID, resourceType, resourceID)
	return s.scanRow(row)
}

func (s *PGStore) FindVersion(ctx context.Context, tenantID, resourceType, resourceID string, version int) (*Row, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, `
		SELECT `+selectRowColumns+` FROM resources
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3 AND version_id = $4`,
		tenantID, resourceType, resourceID, version)
	return s.scanRow(row)
}

func (s *PGStore) SoftDelete(ctx context.Context, tenantID, resourceType, resourceID string, at time.Time) (*Row, error) {
	prior, err := s.MaxVersion(ctx, tenantID, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	if prior == 0 {
		return nil, ErrNotFound
	}
	if _, err := s.MarkAllNotCurrent(ctx, tenantID, resourceType, resourceID); err != nil {
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
	}
	if err := s.Save(ctx, tomb); err != nil {
		return nil, err
	}
	return &tomb, nil
}

func (s *PGStore) ListHistory(ctx context.Context, tenantID, resourceType, resourceID string) ([]HistoryRecord, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+selectRowColumns+` FROM resources
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY version_id DESC`,
		tenantID, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("store: list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryRecord{Row: *r, Action: actionFor(*r, len(out))})
	}
	return out, rows.Err()
}

// actionFor infers the CREATE/UPDATE/DELETE tag from tombstone state and
// version number (version 1 is CREATE), since the resources table does not persist the
// interaction that produced a version explicitly.
func actionFor(r Row, indexFromNewest int) Action {
	switch {
	case r.IsDeleted:
		return ActionDelete
	case r.VersionID == 1:
		return ActionCreate
	default:
		return ActionUpdate
	}
}

func (s *PGStore) IndexResource(ctx context.Context, tenantID, resourceType, resourceID string, values []IndexValue) error {
	if err := s.DeleteIndex(ctx, tenantID, resourceType, resourceID); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	for _, v := range values {
		_, err := q.Exec(ctx, `
			INSERT INTO search_index
				(tenant_id, resource_type, resource_id, param_name, param_type,
				 string_value, string_value_normalized,
				 date_start, date_end, number_value,
				 quantity_value, quantity_unit, quantity_system,
				 token_system, token_code, token_text,
				 reference_type, reference_id, uri_value)
			VALUES ($1,$2,$3,$4,$5, $6,$7, $8,$9, $10, $11,$12,$13, $14,$15,$16, $17,$18, $19)`,
			tenantID, resourceType, resourceID, v.ParamName, v.ParamType,
			nullString(v.StringValue), nullString(v.StringValueNormalized),
			nullTime(v.DateStart), nullTime(v.DateEnd), v.NumberValue,
			v.QuantityValue, nullString(v.QuantityUnit), nullString(v.QuantitySystem),
			nullString(v.TokenSystem), nullString(v.TokenCode), nullString(v.TokenText),
			nullString(v.ReferenceType), nullString(v.ReferenceID), nullString(v.URIValue))
		if err != nil {
			return fmt.Errorf("store: index resource: %w", err)
		}
	}
	return nil
}

func (s *PGStore) DeleteIndex(ctx context.Context, tenantID, resourceType, resourceID string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		DELETE FROM search_index
		WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3`,
		tenantID, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("store: delete index: %w", err)
	}
	return nil
}

func (s *PGStore) SearchQuery(ctx context.Context, tenantID, resourceType string, query CompiledQuery, page Pagination) ([]Row, int, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := "r.tenant_id = $1 AND r.resource_type = $2 AND r.is_current"
	args := []interface{}{tenantID, resourceType}
	if query.Where != "" {
		shifted, shiftedArgs := shiftPlaceholders(query.Where, query.Args, len(args))
		where += " AND " + shifted
		args = append(args, shiftedArgs...)
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM resources r WHERE " + where
	if err := q.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count search results: %w", err)
	}

	order := "r.last_updated DESC"
	if len(query.Sort) > 0 {
		order = ""
		for i, s := range query.Sort {
			if i > 0 {
				order += ", "
			}
			order += "r." + s.Column
			if s.Descending {
				order += " DESC"
			}
		}
	}

	limit := page.Count
	if limit <= 0 {
		limit = 1
	}
	sql := fmt.Sprintf(`
		SELECT %s FROM resources r
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d`, selectRowColumnsPrefixed, where, order, limit, page.Offset)

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: search query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}
