// Package registry implements the ResourceRegistry (C1) and
// SearchParameterRegistry (C2) components: a process-wide, immutable
// snapshot of per-resource-type and per-FHIR-version configuration, loaded
// once from a declarative config tree at startup.
package registry

import (
	"fmt"
)

// AllVersions is the set of FHIR releases the server knows how to load
// SearchParameter directories for.
var AllVersions = []Version{R4B, R5}

// Registry is an immutable snapshot. A *Registry is safe for concurrent
// read access from any number of goroutines without locking; callers that
// want hot reload swap the pointer (see Store below), they never mutate
// a Registry in place.
type Registry struct {
	basePath  string
	resources map[string]*ResourceConfig
	byVersion map[Version]*searchParamBuckets
	global    Config
}

// Config carries the server-wide defaults that fall outside any single
// resource's configuration, per spec §6 ("server.defaultVersion",
// "versions.enabled").
type Config struct {
	DefaultVersion   Version
	EnabledVersions  []Version
}

func (c Config) versionEnabled(v Version) bool {
	if len(c.EnabledVersions) == 0 {
		return true
	}
	for _, ev := range c.EnabledVersions {
		if ev == v {
			return true
		}
	}
	return false
}

// Load builds a Registry from `<basePath>/resources/*.yml` and
// `<basePath>/<version>/searchparameters/*.json` for every version in
// cfg.EnabledVersions (or AllVersions if unset).
func Load(basePath string, cfg Config) (*Registry, error) {
	resources, err := loadResourceConfigs(basePath)
	if err != nil {
		return nil, err
	}

	versions := cfg.EnabledVersions
	if len(versions) == 0 {
		versions = AllVersions
	}
	byVersion := make(map[Version]*searchParamBuckets, len(versions))
	for _, v := range versions {
		buckets, err := loadSearchParameters(basePath, v)
		if err != nil {
			return nil, err
		}
		byVersion[v] = buckets
	}

	return &Registry{
		basePath:  basePath,
		resources: resources,
		byVersion: byVersion,
		global:    cfg,
	}, nil
}

// Get returns the ResourceConfig for type, or (nil, false) if unconfigured.
func (r *Registry) Get(resourceType string) (*ResourceConfig, bool) {
	c, ok := r.resources[resourceType]
	return c, ok
}

// SupportsVersion reports whether resourceType is configured to support v.
// An unconfigured type never supports any version.
func (r *Registry) SupportsVersion(resourceType string, v Version) bool {
	c, ok := r.resources[resourceType]
	if !ok {
		return false
	}
	return c.supportsVersion(v)
}

// DefaultVersion returns the resource's configured default FHIR version.
//
// Per design note 9: a resource with enabled=true and zero configured
// fhirVersions is treated as unsupported, never as an implicit fallback to
// the global default. DefaultVersion therefore only falls back to
// cfg.DefaultVersion for a type that is entirely unconfigured (not present
// in the registry at all); a configured-but-versionless type is an error
// the loader already rejects (see loadResourceConfigs).
func (r *Registry) DefaultVersion(resourceType string) (Version, error) {
	c, ok := r.resources[resourceType]
	if !ok {
		if r.global.DefaultVersion != "" {
			return r.global.DefaultVersion, nil
		}
		return "", fmt.Errorf("registry: %w: %s", ErrNotConfigured, resourceType)
	}
	if !c.Enabled {
		return "", fmt.Errorf("registry: %w: %s", ErrResourceDisabled, resourceType)
	}
	v, ok := c.defaultVersion()
	if !ok {
		return "", fmt.Errorf("registry: %s has no default fhirVersion", resourceType)
	}
	return v, nil
}

// EnabledInteractions returns the set of interactions enabled for a
// configured resource type. An unconfigured type has none enabled.
func (r *Registry) EnabledInteractions(resourceType string) map[Interaction]bool {
	c, ok := r.resources[resourceType]
	if !ok {
		return nil
	}
	out := make(map[Interaction]bool, len(c.Interactions))
	for k, v := range c.Interactions {
		out[k] = v
	}
	return out
}

// InteractionEnabled is a convenience single-interaction check used by
// InteractionGuard (C5).
func (r *Registry) InteractionEnabled(resourceType string, i Interaction) bool {
	c, ok := r.resources[resourceType]
	if !ok {
		return false
	}
	return c.interactionEnabled(i)
}

// IsSearchParamAllowed applies the resource's allow/deny configuration.
// A resource with no config, or no searchParameters block, allows every
// parameter the SearchParameterRegistry defines for its type.
func (r *Registry) IsSearchParamAllowed(resourceType, code string, isCommon bool) bool {
	c, ok := r.resources[resourceType]
	if !ok {
		return true
	}
	return c.isSearchParamAllowed(code, isCommon)
}

// VersionEnabled reports whether v is in the server-wide enabled set.
func (r *Registry) VersionEnabled(v Version) bool {
	return r.global.versionEnabled(v)
}

// ListSearchParameters returns every SearchParameter applicable to
// resourceType under version, per the bucket union rule of spec §4.2.
func (r *Registry) ListSearchParameters(version Version, resourceType string) []*SearchParameter {
	b, ok := r.byVersion[version]
	if !ok {
		return nil
	}
	return b.list(resourceType)
}

// GetSearchParameter returns the single SearchParameter with the given code
// applicable to resourceType under version, or nil.
func (r *Registry) GetSearchParameter(version Version, resourceType, code string) *SearchParameter {
	b, ok := r.byVersion[version]
	if !ok {
		return nil
	}
	return b.get(resourceType, code)
}

// GetExpression returns GetSearchParameter(version, resourceType, code)'s
// expression filtered to the paths relevant to resourceType (spec §4.2,
// "Expression filtering"). Returns "" if the parameter is not defined.
func (r *Registry) GetExpression(version Version, resourceType, code string) string {
	sp := r.GetSearchParameter(version, resourceType, code)
	if sp == nil {
		return ""
	}
	return getExpression(sp.Expression, resourceType)
}

// AllowedSearchParameters returns the intersection of the parameters
// defined for resourceType under version and the resource's own
// allow/deny configuration (spec §4.2, "Allowed-set").
func (r *Registry) AllowedSearchParameters(version Version, resourceType string) []*SearchParameter {
	defined := r.ListSearchParameters(version, resourceType)
	out := make([]*SearchParameter, 0, len(defined))
	for _, sp := range defined {
		if r.IsSearchParamAllowed(resourceType, sp.Code, sp.isCommon()) {
			out = append(out, sp)
		}
	}
	return out
}

// ResourceTypes returns every configured resource type, used by C10 to
// build the server's CapabilityStatement.
func (r *Registry) ResourceTypes() []string {
	out := make([]string, 0, len(r.resources))
	for t := range r.resources {
		out = append(out, t)
	}
	return out
}
