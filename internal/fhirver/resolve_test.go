package fhirver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhir-core/server/internal/registry"
)

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	base := t.TempDir()
	writeYAML(t, filepath.Join(base, "resources", "Patient.yml"), `
resourceType: Patient
enabled: true
fhirVersions:
  - version: R5
    default: true
  - version: R4B
    default: false
interactions:
  read: true
  search: true
`)
	writeYAML(t, filepath.Join(base, "resources", "AuditEvent.yml"), `
resourceType: AuditEvent
enabled: false
fhirVersions: []
interactions: {}
`)
	r, err := registry.Load(base, registry.Config{DefaultVersion: registry.R5})
	require.NoError(t, err)
	return r
}

func TestResolve_ExplicitVersion(t *testing.T) {
	reg := testRegistry(t)
	res, err := Resolve("/fhir/r5/Patient/123", reg)
	require.NoError(t, err)
	assert.Equal(t, registry.R5, res.Version)
	assert.True(t, res.Explicit)
	assert.Equal(t, "Patient", res.ResourceType)
	assert.Equal(t, "123", res.TailPath)
}

func TestResolve_ExplicitVersionCaseInsensitive(t *testing.T) {
	reg := testRegistry(t)
	res, err := Resolve("/fhir/R4B/Patient", reg)
	require.NoError(t, err)
	assert.Equal(t, registry.R4B, res.Version)
	assert.True(t, res.Explicit)
}

func TestResolve_ImplicitVersionUsesResourceDefault(t *testing.T) {
	reg := testRegistry(t)
	res, err := Resolve("/fhir/Patient/123/_history/2", reg)
	require.NoError(t, err)
	assert.Equal(t, registry.R5, res.Version)
	assert.False(t, res.Explicit)
	assert.Equal(t, "Patient", res.ResourceType)
	assert.Equal(t, "123/_history/2", res.TailPath)
}

func TestResolve_ImplicitVersionDisabledResourceErrors(t *testing.T) {
	reg := testRegistry(t)
	_, err := Resolve("/fhir/AuditEvent", reg)
	assert.Error(t, err)
}

func TestResolve_MalformedPath(t *testing.T) {
	reg := testRegistry(t)
	_, err := Resolve("/not-fhir/Patient", reg)
	assert.ErrorIs(t, err, ErrMalformedPath)

	_, err = Resolve("/fhir", reg)
	assert.ErrorIs(t, err, ErrMalformedPath)

	_, err = Resolve("/fhir/r5", reg)
	assert.ErrorIs(t, err, ErrMalformedPath)
}
