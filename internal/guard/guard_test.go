package guard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhir-core/server/internal/registry"
)

func testGuard(t *testing.T) *Guard {
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
  search: true
  delete: false
`), 0o644))

	reg, err := registry.Load(base, registry.Config{DefaultVersion: registry.R5})
	require.NoError(t, err)
	return New(reg)
}

func TestCheck_AllowsEnabledInteractionOnSupportedVersion(t *testing.T) {
	g := testGuard(t)
	assert.NoError(t, g.Check("Patient", registry.R5, registry.InteractionRead))
}

func TestCheck_RejectsUnsupportedVersion(t *testing.T) {
	g := testGuard(t)
	err := g.Check("Patient", registry.R4B, registry.InteractionRead)
	assert.ErrorIs(t, err, ErrVersionNotSupported)
}

func TestCheck_RejectsDisabledInteraction(t *testing.T) {
	g := testGuard(t)
	err := g.Check("Patient", registry.R5, registry.InteractionDelete)
	assert.ErrorIs(t, err, ErrInteractionDisabled)
}

func TestCheck_UnconfiguredTypeIsVersionUnsupported(t *testing.T) {
	g := testGuard(t)
	err := g.Check("Observation", registry.R5, registry.InteractionRead)
	assert.ErrorIs(t, err, ErrVersionNotSupported)
}
