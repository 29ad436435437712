// Package service implements the ResourceService (C8): CRUD orchestration
// over a single logical resource, including id/meta assignment, ETag
// concurrency checks, and patch application. It is the layer
// internal/httpapi and internal/bundleproc call into; neither talks to
// internal/store directly.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fhir-core/server/internal/guard"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/searchengine"
	"github.com/fhir-core/server/internal/store"
)

// Sentinel conditions, mapped by internal/httpapi onto spec §7's status
// table.
var (
	ErrNotFound        = errors.New("service: resource not found")
	ErrGone            = errors.New("service: resource deleted")
	ErrVersionConflict = errors.New("service: version conflict")
	ErrValidation      = errors.New("service: resource failed validation")
	ErrPreconditionReq = errors.New("service: If-Match required")
)

// Parser decouples ResourceService from any one resource representation,
// grounded on the teacher's use of map[string]interface{} as the resource
// body plus dedicated parse/validate helpers per package
// (internal/platform/fhir/patch.go, resource.go). A StructuralParser
// default covers spec §4.8's "syntactic JSON validation only" baseline;
// a richer profile-aware implementation can be swapped in without
// changing ResourceService.
type Parser interface {
	// Parse decodes raw request bytes into a resource map, or returns
	// ErrValidation wrapped with details if the body is not valid JSON or
	// resourceType disagrees with the path.
	Parse(resourceType string, raw []byte) (map[string]interface{}, error)
	// Validate runs structural/profile checks beyond bare JSON parsing.
	Validate(resourceType string, resource map[string]interface{}) error
	// Serialize re-encodes a resource map back to wire bytes.
	Serialize(resource map[string]interface{}) ([]byte, error)
}

// Service is the C8 ResourceService.
type Service struct {
	reg    *registry.Registry
	guard  *guard.Guard
	store  store.Store
	engine *searchengine.Engine
	parser Parser
	now    func() time.Time
}

// New builds a Service. now defaults to time.Now when nil, overridable by
// tests that need deterministic lastUpdated timestamps.
func New(reg *registry.Registry, g *guard.Guard, st store.Store, engine *searchengine.Engine, parser Parser, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if parser == nil {
		parser = StructuralParser{}
	}
	return &Service{reg: reg, guard: g, store: st, engine: engine, parser: parser, now: now}
}

// Outcome wraps a resource map with the version metadata httpapi needs for
// response headers, independent of the resource's own serialized meta.
type Outcome struct {
	Resource    map[string]interface{}
	VersionID   int
	LastUpdated time.Time
	Created     bool
}

// Create assigns a server id and version 1, per spec §4.8.
func (s *Service) Create(ctx context.Context, tenantID string, version registry.Version, resourceType string, raw []byte) (*Outcome, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionCreate); err != nil {
		return nil, err
	}
	resource, err := s.parser.Parse(resourceType, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.parser.Validate(resourceType, resource); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	id := uuid.NewString()
	now := s.now().UTC()
	return s.put(ctx, tenantID, version, resourceType, id, resource, now, true)
}

// Read returns the current version of a logical resource.
func (s *Service) Read(ctx context.Context, tenantID string, version registry.Version, resourceType, id string) (*Outcome, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionRead); err != nil {
		return nil, err
	}
	row, err := s.store.FindCurrent(ctx, tenantID, resourceType, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if row.IsDeleted {
		return nil, ErrGone
	}
	return rowToOutcome(row, s.parser)
}

// VRead returns a specific historical version.
func (s *Service) VRead(ctx context.Context, tenantID string, version registry.Version, resourceType, id string, versionID int) (*Outcome, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionVRead); err != nil {
		return nil, err
	}
	row, err := s.store.FindVersion(ctx, tenantID, resourceType, id, versionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rowToOutcome(row, s.parser)
}

// Update replaces a resource, enforcing If-Match via ifMatchVersion when
// non-zero (0 means unconditional, per the teacher's CheckIfMatch
// contract).
func (s *Service) Update(ctx context.Context, tenantID string, version registry.Version, resourceType, id string, raw []byte, ifMatchVersion int) (*Outcome, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionUpdate); err != nil {
		return nil, err
	}
	resource, err := s.parser.Parse(resourceType, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.parser.Validate(resourceType, resource); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	current, err := s.store.FindCurrent(ctx, tenantID, resourceType, id)
	created := false
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		created = true
	} else if ifMatchVersion != 0 && current.VersionID != ifMatchVersion {
		return nil, ErrVersionConflict
	}

	now := s.now().UTC()
	return s.put(ctx, tenantID, version, resourceType, id, resource, now, created)
}

// Patch applies a partial update produced by internal/httpapi (from
// either JSON Patch or Merge Patch) to the current resource.
func (s *Service) Patch(ctx context.Context, tenantID string, version registry.Version, resourceType, id string, apply func(current map[string]interface{}) (map[string]interface{}, error), ifMatchVersion int) (*Outcome, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionPatch); err != nil {
		return nil, err
	}
	current, err := s.store.FindCurrent(ctx, tenantID, resourceType, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if current.IsDeleted {
		return nil, ErrGone
	}
	if ifMatchVersion != 0 && current.VersionID != ifMatchVersion {
		return nil, ErrVersionConflict
	}

	var currentResource map[string]interface{}
	if err := json.Unmarshal(current.Content, &currentResource); err != nil {
		return nil, fmt.Errorf("service: decode current resource: %w", err)
	}
	patched, err := apply(currentResource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.parser.Validate(resourceType, patched); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now().UTC()
	return s.put(ctx, tenantID, version, resourceType, id, patched, now, false)
}

// Delete soft-deletes the current resource, per spec §4.8's tombstone
// model: a DELETE never removes history, it appends a deleted version.
func (s *Service) Delete(ctx context.Context, tenantID string, version registry.Version, resourceType, id string) error {
	if err := s.guard.Check(resourceType, version, registry.InteractionDelete); err != nil {
		return err
	}
	now := s.now().UTC()
	_, err := s.store.SoftDelete(ctx, tenantID, resourceType, id, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.store.DeleteIndex(ctx, tenantID, resourceType, id)
}

// SearchPage is the result of a Search call: a page of resources plus the
// total match count, independent of any particular Bundle representation
// (internal/httpapi wraps this into a searchset Bundle).
type SearchPage struct {
	Results []Outcome
	Total   int
}

// Search compiles query against the resource's allowed SearchParameters
// and executes it through internal/store, per spec §4.7/§4.9.
func (s *Service) Search(ctx context.Context, tenantID string, version registry.Version, resourceType string, query map[string][]string, page store.Pagination, failOnUnknown bool) (*SearchPage, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionSearch); err != nil {
		return nil, err
	}
	if s.engine == nil {
		return &SearchPage{}, nil
	}
	compiled, err := s.engine.Compile(version, resourceType, query, failOnUnknown)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	rows, total, err := s.store.SearchQuery(ctx, tenantID, resourceType, compiled, page)
	if err != nil {
		return nil, err
	}
	results := make([]Outcome, 0, len(rows))
	for i := range rows {
		o, err := rowToOutcome(&rows[i], s.parser)
		if err != nil {
			return nil, err
		}
		results = append(results, *o)
	}
	return &SearchPage{Results: results, Total: total}, nil
}

// FindByConditionalQuery resolves an If-None-Exist style conditional
// search (spec §4 supplement): it runs the query and returns the single
// match, or an error if zero or more than one resource matches (FHIR
// treats a multi-match conditional create as an error rather than
// picking arbitrarily).
func (s *Service) FindByConditionalQuery(ctx context.Context, tenantID string, version registry.Version, resourceType string, rawQuery string) (*Outcome, error) {
	query, err := parseQueryString(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	page, err := s.Search(ctx, tenantID, version, resourceType, query, store.Pagination{Count: 2}, false)
	if err != nil {
		return nil, err
	}
	switch len(page.Results) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &page.Results[0], nil
	default:
		return nil, fmt.Errorf("%w: conditional query matched more than one resource", ErrValidation)
	}
}

// History lists every version of a logical resource, newest first.
func (s *Service) History(ctx context.Context, tenantID string, version registry.Version, resourceType, id string) ([]Outcome, error) {
	if err := s.guard.Check(resourceType, version, registry.InteractionHistory); err != nil {
		return nil, err
	}
	records, err := s.store.ListHistory(ctx, tenantID, resourceType, id)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(records))
	for _, rec := range records {
		o, err := rowToOutcome(&rec.Row, s.parser)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// put assigns the next version number, stamps meta, persists the row and
// its search index entries, and marks any prior current row superseded.
// It is the single write path shared by Create/Update/Patch so that the
// version-bump and index-rebuild sequence never drifts between them.
func (s *Service) put(ctx context.Context, tenantID string, version registry.Version, resourceType, id string, resource map[string]interface{}, now time.Time, created bool) (*Outcome, error) {
	priorMax, err := s.store.MaxVersion(ctx, tenantID, resourceType, id)
	if err != nil {
		return nil, err
	}
	nextVersion := priorMax + 1

	resource["resourceType"] = resourceType
	resource["id"] = id
	resource["meta"] = map[string]interface{}{
		"versionId":   fmt.Sprintf("%d", nextVersion),
		"lastUpdated": now.Format(time.RFC3339),
	}

	body, err := s.parser.Serialize(resource)
	if err != nil {
		return nil, fmt.Errorf("service: serialize resource: %w", err)
	}

	if priorMax > 0 {
		if _, err := s.store.MarkAllNotCurrent(ctx, tenantID, resourceType, id); err != nil {
			return nil, err
		}
	}

	row := store.Row{
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   id,
		VersionID:    nextVersion,
		FHIRVersion:  string(version),
		IsCurrent:    true,
		Content:      body,
		LastUpdated:  now,
	}
	if err := s.store.Save(ctx, row); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	if s.engine != nil {
		values, err := s.engine.ExtractIndexValues(resourceType, version, resource)
		if err != nil {
			return nil, fmt.Errorf("service: extract search index values: %w", err)
		}
		if err := s.store.IndexResource(ctx, tenantID, resourceType, id, values); err != nil {
			return nil, err
		}
	}

	return &Outcome{Resource: resource, VersionID: nextVersion, LastUpdated: now, Created: created}, nil
}

func rowToOutcome(row *store.Row, parser Parser) (*Outcome, error) {
	var resource map[string]interface{}
	if err := json.Unmarshal(row.Content, &resource); err != nil {
		return nil, fmt.Errorf("service: decode stored resource: %w", err)
	}
	return &Outcome{Resource: resource, VersionID: row.VersionID, LastUpdated: row.LastUpdated}, nil
}
