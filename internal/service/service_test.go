package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhir-core/server/internal/guard"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/searchengine"
	"github.com/fhir-core/server/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testService(t *testing.T) *Service {
	t.Helper()
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "resources", "Patient.yml"), `
resourceType: Patient
enabled: true
fhirVersions:
  - version: R5
    default: true
interactions:
  read: true
  vread: true
  create: true
  update: true
  patch: true
  delete: true
  search: true
  history: true
`)
	reg, err := registry.Load(base, registry.Config{DefaultVersion: registry.R5})
	require.NoError(t, err)

	g := guard.New(reg)
	st := store.NewMemStore()
	engine := searchengine.New(reg)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return New(reg, g, st, engine, nil, func() time.Time { return fixed })
}

func TestService_CreateAssignsIDAndVersion1(t *testing.T) {
	svc := testService(t)
	out, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{"name":[{"family":"Smith"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.VersionID)
	assert.NotEmpty(t, out.Resource["id"])
	assert.True(t, out.Created)
}

func TestService_ReadReturnsCreatedResource(t *testing.T) {
	svc := testService(t)
	created, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{}`))
	require.NoError(t, err)
	id := created.Resource["id"].(string)

	out, err := svc.Read(context.Background(), "tenant1", registry.R5, "Patient", id)
	require.NoError(t, err)
	assert.Equal(t, 1, out.VersionID)
}

func TestService_ReadMissingIsNotFound(t *testing.T) {
	svc := testService(t)
	_, err := svc.Read(context.Background(), "tenant1", registry.R5, "Patient", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_UpdateBumpsVersion(t *testing.T) {
	svc := testService(t)
	created, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{}`))
	require.NoError(t, err)
	id := created.Resource["id"].(string)

	updated, err := svc.Update(context.Background(), "tenant1", registry.R5, "Patient", id, []byte(`{"active":true}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.VersionID)
	assert.Equal(t, true, updated.Resource["active"])
}

func TestService_UpdateWithStaleIfMatchConflicts(t *testing.T) {
	svc := testService(t)
	created, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{}`))
	require.NoError(t, err)
	id := created.Resource["id"].(string)

	_, err = svc.Update(context.Background(), "tenant1", registry.R5, "Patient", id, []byte(`{}`), 99)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestService_UpdateNonexistentCreatesResource(t *testing.T) {
	svc := testService(t)
	out, err := svc.Update(context.Background(), "tenant1", registry.R5, "Patient", "client-assigned-id", []byte(`{}`), 0)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, 1, out.VersionID)
}

func TestService_DeleteSoftDeletesAndReadReturnsGone(t *testing.T) {
	svc := testService(t)
	created, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{}`))
	require.NoError(t, err)
	id := created.Resource["id"].(string)

	require.NoError(t, svc.Delete(context.Background(), "tenant1", registry.R5, "Patient", id))

	_, err = svc.Read(context.Background(), "tenant1", registry.R5, "Patient", id)
	assert.ErrorIs(t, err, ErrGone)
}

func TestService_PatchAppliesFunctionAndBumpsVersion(t *testing.T) {
	svc := testService(t)
	created, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{"active":false}`))
	require.NoError(t, err)
	id := created.Resource["id"].(string)

	out, err := svc.Patch(context.Background(), "tenant1", registry.R5, "Patient", id, func(current map[string]interface{}) (map[string]interface{}, error) {
		current["active"] = true
		return current, nil
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, out.VersionID)
	assert.Equal(t, true, out.Resource["active"])
}

func TestService_HistoryListsNewestFirst(t *testing.T) {
	svc := testService(t)
	created, err := svc.Create(context.Background(), "tenant1", registry.R5, "Patient", []byte(`{}`))
	require.NoError(t, err)
	id := created.Resource["id"].(string)
	_, err = svc.Update(context.Background(), "tenant1", registry.R5, "Patient", id, []byte(`{}`), 0)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), "tenant1", registry.R5, "Patient", id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].VersionID)
	assert.Equal(t, 1, history[1].VersionID)
}

func TestService_CreateUnsupportedVersionIsGuarded(t *testing.T) {
	svc := testService(t)
	_, err := svc.Create(context.Background(), "tenant1", registry.R4B, "Patient", []byte(`{}`))
	assert.Error(t, err)
}
