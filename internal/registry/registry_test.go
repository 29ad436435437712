package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedBasePath(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	writeFile(t, filepath.Join(base, "resources", "Patient.yml"), `
resourceType: Patient
enabled: true
fhirVersions:
  - version: R5
    default: true
  - version: R4B
    default: false
interactions:
  read: true
  vread: true
  create: true
  update: true
  patch: true
  delete: true
  search: true
  history: true
searchParameters:
  mode: denylist
  common: []
  resourceSpecific: ["secret"]
profiles: []
`)

	writeFile(t, filepath.Join(base, "resources", "AuditEvent.yml"), `
resourceType: AuditEvent
enabled: false
fhirVersions: []
interactions: {}
`)

	writeFile(t, filepath.Join(base, "R5", "searchparameters", "id.json"), `{
  "url": "http://hl7.org/fhir/SearchParameter/Resource-id",
  "code": "_id",
  "base": ["Resource"],
  "type": "token",
  "expression": "Resource.id"
}`)

	writeFile(t, filepath.Join(base, "R5", "searchparameters", "date.json"), `{
  "url": "http://hl7.org/fhir/SearchParameter/clinical-date",
  "code": "date",
  "base": ["AdverseEvent", "Observation"],
  "type": "date",
  "expression": "AdverseEvent.occurrence.ofType(dateTime) | Observation.effective.ofType(dateTime)"
}`)

	writeFile(t, filepath.Join(base, "R5", "searchparameters", "family.json"), `{
  "url": "http://hl7.org/fhir/SearchParameter/individual-family",
  "code": "family",
  "base": ["Patient"],
  "type": "string",
  "expression": "Patient.name.family"
}`)

	writeFile(t, filepath.Join(base, "R5", "searchparameters", "secret.json"), `{
  "url": "http://example.org/SearchParameter/patient-secret",
  "code": "secret",
  "base": ["Patient"],
  "type": "string",
  "expression": "Patient.extension"
}`)

	return base
}

func TestLoad_ResourceConfigAndInteractions(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	cfg, ok := r.Get("Patient")
	require.True(t, ok)
	assert.True(t, cfg.Enabled)
	assert.True(t, r.InteractionEnabled("Patient", InteractionRead))
	assert.True(t, r.SupportsVersion("Patient", R5))
	assert.True(t, r.SupportsVersion("Patient", R4B))
	assert.False(t, r.SupportsVersion("Patient", "R4"))

	v, err := r.DefaultVersion("Patient")
	require.NoError(t, err)
	assert.Equal(t, R5, v)
}

func TestDefaultVersion_DisabledResourceIsUnsupported(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	_, err = r.DefaultVersion("AuditEvent")
	assert.ErrorIs(t, err, ErrResourceDisabled)
}

func TestDefaultVersion_UnconfiguredTypeFallsBackToGlobal(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	v, err := r.DefaultVersion("Observation")
	require.NoError(t, err)
	assert.Equal(t, R5, v)
}

func TestIsSearchParamAllowed_Denylist(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	assert.True(t, r.IsSearchParamAllowed("Patient", "family", false))
	assert.False(t, r.IsSearchParamAllowed("Patient", "secret", false))
	// unconfigured resource allows everything
	assert.True(t, r.IsSearchParamAllowed("Observation", "anything", false))
}

func TestListSearchParameters_UnionOfBuckets(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	params := r.ListSearchParameters(R5, "Patient")
	codes := make([]string, 0, len(params))
	for _, p := range params {
		codes = append(codes, p.Code)
	}
	assert.Contains(t, codes, "_id")
	assert.Contains(t, codes, "family")
	assert.Contains(t, codes, "secret")
}

func TestGetExpression_FiltersToResourceType(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	expr := r.GetExpression(R5, "Observation", "date")
	assert.Equal(t, "Observation.effective.ofType(dateTime)", expr)

	expr = r.GetExpression(R5, "AdverseEvent", "date")
	assert.Equal(t, "AdverseEvent.occurrence.ofType(dateTime)", expr)
}

func TestGetExpression_ResourceBaseUnfilteredPassesThrough(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	expr := r.GetExpression(R5, "Patient", "_id")
	assert.Equal(t, "Resource.id", expr)
}

func TestGetExpression_UnknownParameterReturnsEmpty(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)

	assert.Equal(t, "", r.GetExpression(R5, "Patient", "nope"))
}

func TestLoad_MissingSearchParameterDirIsNotFatal(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "resources", "Patient.yml"), `
resourceType: Patient
enabled: true
fhirVersions:
  - version: R5
    default: true
interactions:
  read: true
`)
	r, err := Load(base, Config{DefaultVersion: R5, EnabledVersions: []Version{R5, R4B}})
	require.NoError(t, err)
	assert.Empty(t, r.ListSearchParameters(R4B, "Patient"))
}

func TestLoad_RejectsMissingDefaultVersion(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "resources", "Patient.yml"), `
resourceType: Patient
enabled: true
fhirVersions:
  - version: R5
    default: false
  - version: R4B
    default: false
interactions:
  read: true
`)
	_, err := Load(base, Config{})
	require.Error(t, err)
}

func TestStore_Reload(t *testing.T) {
	base := seedBasePath(t)
	r, err := Load(base, Config{DefaultVersion: R5})
	require.NoError(t, err)
	store := NewStore(r)

	_, ok := store.Current().Get("NewType")
	assert.False(t, ok)

	writeFile(t, filepath.Join(base, "resources", "NewType.yml"), `
resourceType: NewType
enabled: true
fhirVersions:
  - version: R5
    default: true
interactions:
  read: true
`)
	require.NoError(t, store.Reload(Config{DefaultVersion: R5}))

	_, ok = store.Current().Get("NewType")
	assert.True(t, ok)
}
