package bundleproc

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhir-core/server/internal/guard"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/searchengine"
	"github.com/fhir-core/server/internal/service"
	"github.com/fhir-core/server/internal/store"
)

func testProcessor(t *testing.T) *Processor {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "resources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "resources", "Patient.yml"), []byte(`
resourceType: Patient
enabled: true
fhirVersions:
  - version: R5
    default: true
interactions:
  read: true
  create: true
  update: true
  delete: true
  search: true
`), 0o644))
	reg, err := registry.Load(base, registry.Config{DefaultVersion: registry.R5})
	require.NoError(t, err)

	g := guard.New(reg)
	st := store.NewMemStore()
	engine := searchengine.New(reg)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := service.New(reg, g, st, engine, nil, func() time.Time { return fixed })
	return New(reg, svc)
}

// Note: bundleproc's batch/transaction paths call db.WithTx, which requires
// a pooled connection in context; these unit tests exercise processEntry's
// dispatch and status-mapping logic directly rather than the full
// ProcessBatch/ProcessTransaction wrappers, which are exercised against a
// live Postgres in integration tests.

func TestHandleCreate_ReturnsCreatedWithLocation(t *testing.T) {
	p := testProcessor(t)
	res := p.handleCreate(context.Background(), "tenant1", registry.R5, EntryRequest{
		Method: "POST", ResourceType: "Patient", Body: []byte(`{}`),
	})
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Contains(t, res.Location, "Patient/")
	assert.NoError(t, res.Err)
}

func TestHandleRead_NotFoundMapsTo404(t *testing.T) {
	p := testProcessor(t)
	res := p.handleRead(context.Background(), "tenant1", registry.R5, EntryRequest{
		Method: "GET", ResourceType: "Patient", ResourceID: "missing",
	})
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestHandleUpdate_ThenHandleDelete(t *testing.T) {
	p := testProcessor(t)
	created := p.handleCreate(context.Background(), "tenant1", registry.R5, EntryRequest{
		Method: "POST", ResourceType: "Patient", Body: []byte(`{}`),
	})
	require.NoError(t, created.Err)
	id := created.Resource["id"].(string)

	updated := p.handleUpdate(context.Background(), "tenant1", registry.R5, EntryRequest{
		Method: "PUT", ResourceType: "Patient", ResourceID: id, Body: []byte(`{"active":true}`),
	})
	assert.Equal(t, http.StatusOK, updated.Status)

	deleted := p.handleDelete(context.Background(), "tenant1", registry.R5, EntryRequest{
		Method: "DELETE", ResourceType: "Patient", ResourceID: id,
	})
	assert.Equal(t, http.StatusNoContent, deleted.Status)
}

func TestProcessEntry_UnsupportedMethod(t *testing.T) {
	p := testProcessor(t)
	res := p.processEntry(context.Background(), "tenant1", registry.R5, EntryRequest{Method: "PATCH"})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Error(t, res.Err)
}
