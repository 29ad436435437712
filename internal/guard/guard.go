// Package guard implements the InteractionGuard (C5): a stateless check
// that a given (resourceType, version, interaction) triple is both a
// supported version and an enabled interaction for that resource type.
package guard

import (
	"errors"
	"fmt"

	"github.com/fhir-core/server/internal/registry"
)

// Sentinel conditions, mapped by internal/httpapi onto spec §7's status
// table (VersionNotSupported -> 400, InteractionDisabled -> 405).
var (
	ErrVersionNotSupported = errors.New("guard: version not supported for resource type")
	ErrInteractionDisabled = errors.New("guard: interaction disabled for resource type")
)

// Guard has no state beyond the registry reference, per spec §4.5.
type Guard struct {
	reg *registry.Registry
}

// New builds a Guard over reg.
func New(reg *registry.Registry) *Guard {
	return &Guard{reg: reg}
}

// Check verifies that resourceType supports version and has interaction
// enabled. A resourceType the registry has never heard of is treated as
// version-unsupported, since SupportsVersion already returns false for it.
func (g *Guard) Check(resourceType string, version registry.Version, interaction registry.Interaction) error {
	if !g.reg.SupportsVersion(resourceType, version) {
		return fmt.Errorf("%w: %s %s", ErrVersionNotSupported, resourceType, version)
	}
	if !g.reg.InteractionEnabled(resourceType, interaction) {
		return fmt.Errorf("%w: %s %s", ErrInteractionDisabled, resourceType, interaction)
	}
	return nil
}
