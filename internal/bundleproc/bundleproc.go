// Package bundleproc implements the BundleProcessor (C9): batch and
// transaction Bundle interactions. Batch entries run concurrently, each
// against its own connection and failures are independent per spec
// §4.9; transaction entries run sequentially inside one pgx.Tx and any
// entry failure rolls back the whole bundle.
package bundleproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fhir-core/server/internal/platform/db"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/service"
)

// ErrUnsupportedBundleType is returned for anything other than "batch" or
// "transaction" (other Bundle.type values are not interactions this
// processor handles, per spec §4.9).
var ErrUnsupportedBundleType = errors.New("bundleproc: unsupported bundle type")

// EntryRequest is one Bundle.entry's request half, already parsed from
// the incoming Bundle JSON by internal/httpapi.
type EntryRequest struct {
	Method       string // GET, POST, PUT, PATCH, DELETE
	URL          string // e.g. "Patient/123" or "Patient?identifier=..."
	ResourceType string
	ResourceID   string // empty for a type-level create/search
	Body         []byte
	IfMatch      string // version from If-Match, "" if absent
	IfNoneExist  string // conditional-create search query, per spec §4 supplement
}

// EntryResult is the outcome of processing one entry, shaped to feed
// directly into internal/platform/fhir.BundleEntry/BundleResponse.
type EntryResult struct {
	Status       int
	Location     string
	LastModified time.Time
	Resource     map[string]interface{}
	Err          error
}

// Processor is the C9 BundleProcessor.
type Processor struct {
	reg *registry.Registry
	svc *service.Service
}

// New builds a Processor.
func New(reg *registry.Registry, svc *service.Service) *Processor {
	return &Processor{reg: reg, svc: svc}
}

// ProcessBatch runs every entry independently and concurrently
// (golang.org/x/sync/errgroup), each inside its own transaction via
// db.WithTx so that one entry's failure never rolls back another's
// already-committed write, per spec §4.9's batch semantics.
func (p *Processor) ProcessBatch(ctx context.Context, tenantID string, version registry.Version, entries []EntryRequest) ([]EntryResult, error) {
	results := make([]EntryResult, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			entryCtx, tx, err := db.WithTx(gctx)
			if err != nil {
				results[i] = EntryResult{Status: http.StatusInternalServerError, Err: err}
				return nil
			}
			res := p.processEntry(entryCtx, tenantID, version, entry)
			if res.Err != nil {
				_ = tx.Rollback(gctx)
			} else if err := tx.Commit(gctx); err != nil {
				res = EntryResult{Status: http.StatusInternalServerError, Err: fmt.Errorf("bundleproc: commit batch entry: %w", err)}
			}
			results[i] = res
			return nil
		})
	}
	// Errors from individual entries are captured per-result, not
	// propagated to the group, since one entry's failure must not cancel
	// the others in a batch.
	_ = g.Wait()
	return results, nil
}

// ProcessTransaction runs every entry sequentially inside a single
// pgx.Tx. The first entry failure aborts the whole bundle and every
// entry's effect (including already-processed ones) is rolled back, per
// spec §4.9's transaction semantics.
func (p *Processor) ProcessTransaction(ctx context.Context, tenantID string, version registry.Version, entries []EntryRequest) ([]EntryResult, error) {
	txCtx, tx, err := db.WithTx(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]EntryResult, len(entries))
	for i, entry := range entries {
		res := p.processEntry(txCtx, tenantID, version, entry)
		results[i] = res
		if res.Err != nil {
			_ = tx.Rollback(ctx)
			return results, fmt.Errorf("bundleproc: transaction entry %d (%s %s): %w", i, entry.Method, entry.URL, res.Err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return results, fmt.Errorf("bundleproc: commit transaction: %w", err)
	}
	return results, nil
}

func (p *Processor) processEntry(ctx context.Context, tenantID string, version registry.Version, entry EntryRequest) EntryResult {
	switch strings.ToUpper(entry.Method) {
	case http.MethodPost:
		return p.handleCreate(ctx, tenantID, version, entry)
	case http.MethodPut:
		return p.handleUpdate(ctx, tenantID, version, entry)
	case http.MethodGet:
		return p.handleRead(ctx, tenantID, version, entry)
	case http.MethodDelete:
		return p.handleDelete(ctx, tenantID, version, entry)
	default:
		return EntryResult{Status: http.StatusBadRequest, Err: fmt.Errorf("bundleproc: unsupported entry method %q", entry.Method)}
	}
}

func (p *Processor) handleCreate(ctx context.Context, tenantID string, version registry.Version, entry EntryRequest) EntryResult {
	if entry.IfNoneExist != "" {
		if existing := p.findConditional(ctx, tenantID, version, entry.ResourceType, entry.IfNoneExist); existing != nil {
			return EntryResult{Status: http.StatusOK, Resource: existing.Resource, LastModified: existing.LastUpdated}
		}
	}
	out, err := p.svc.Create(ctx, tenantID, version, entry.ResourceType, entry.Body)
	if err != nil {
		return EntryResult{Status: statusFor(err), Err: err}
	}
	id, _ := out.Resource["id"].(string)
	return EntryResult{
		Status:       http.StatusCreated,
		Location:     fmt.Sprintf("%s/%s/_history/%d", entry.ResourceType, id, out.VersionID),
		LastModified: out.LastUpdated,
		Resource:     out.Resource,
	}
}

func (p *Processor) handleUpdate(ctx context.Context, tenantID string, version registry.Version, entry EntryRequest) EntryResult {
	ifMatch := 0
	if entry.IfMatch != "" {
		fmt.Sscanf(entry.IfMatch, "%d", &ifMatch)
	}
	out, err := p.svc.Update(ctx, tenantID, version, entry.ResourceType, entry.ResourceID, entry.Body, ifMatch)
	if err != nil {
		return EntryResult{Status: statusFor(err), Err: err}
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	return EntryResult{Status: status, LastModified: out.LastUpdated, Resource: out.Resource}
}

func (p *Processor) handleRead(ctx context.Context, tenantID string, version registry.Version, entry EntryRequest) EntryResult {
	out, err := p.svc.Read(ctx, tenantID, version, entry.ResourceType, entry.ResourceID)
	if err != nil {
		return EntryResult{Status: statusFor(err), Err: err}
	}
	return EntryResult{Status: http.StatusOK, LastModified: out.LastUpdated, Resource: out.Resource}
}

func (p *Processor) handleDelete(ctx context.Context, tenantID string, version registry.Version, entry EntryRequest) EntryResult {
	if err := p.svc.Delete(ctx, tenantID, version, entry.ResourceType, entry.ResourceID); err != nil {
		return EntryResult{Status: statusFor(err), Err: err}
	}
	return EntryResult{Status: http.StatusNoContent}
}

// findConditional supports the If-None-Exist conditional-create supplement
// (SPEC_FULL.md §4): a bare existence probe, not a full search, so errors
// are treated as "not found" rather than surfaced.
func (p *Processor) findConditional(ctx context.Context, tenantID string, version registry.Version, resourceType, query string) *service.Outcome {
	// A real implementation resolves query through internal/searchengine
	// and internal/store.SearchQuery; bundleproc only orchestrates, so it
	// asks Service for the first match via a reserved lookup path.
	out, err := p.svc.FindByConditionalQuery(ctx, tenantID, version, resourceType, query)
	if err != nil {
		return nil
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrGone):
		return http.StatusGone
	case errors.Is(err, service.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotConfigured), errors.Is(err, registry.ErrResourceDisabled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// marshalOutcome is used by internal/httpapi when an entry fails and needs
// an OperationOutcome body instead of the resource.
func marshalOutcome(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]interface{}{
		"resourceType": "OperationOutcome",
		"issue": []map[string]interface{}{
			{"severity": "error", "code": "processing", "diagnostics": err.Error()},
		},
	})
	return data
}
