package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version identifies a supported FHIR release.
type Version string

const (
	R4B Version = "R4B"
	R5  Version = "R5"
)

// Interaction identifies a RESTful FHIR interaction kind.
type Interaction string

const (
	InteractionRead    Interaction = "read"
	InteractionVRead   Interaction = "vread"
	InteractionCreate  Interaction = "create"
	InteractionUpdate  Interaction = "update"
	InteractionPatch   Interaction = "patch"
	InteractionDelete  Interaction = "delete"
	InteractionSearch  Interaction = "search"
	InteractionHistory Interaction = "history"
)

// SearchParamMode is the allow/deny mode for a resource's searchParameters block.
type SearchParamMode string

const (
	SearchParamAllowlist SearchParamMode = "allowlist"
	SearchParamDenylist  SearchParamMode = "denylist"
)

// ResourceVersionSupport is one entry of a ResourceConfig's fhirVersions list.
type ResourceVersionSupport struct {
	Version Version `yaml:"version"`
	Default bool    `yaml:"default"`
}

// ResourceSearchParams is the optional allow/deny block for a resource type.
type ResourceSearchParams struct {
	Mode             SearchParamMode `yaml:"mode"`
	Common           []string        `yaml:"common"`
	ResourceSpecific []string        `yaml:"resourceSpecific"`
}

// ResourceProfile is a required-or-optional StructureDefinition binding.
type ResourceProfile struct {
	URL      string `yaml:"url"`
	Required bool   `yaml:"required"`
}

// ResourceConfig is the declarative configuration for one FHIR resource type,
// loaded from a single `resources/<type>.yml` file. Once a Registry is built
// it is never mutated; callers receive read-only access.
type ResourceConfig struct {
	ResourceType     string                     `yaml:"resourceType"`
	Enabled          bool                       `yaml:"enabled"`
	FHIRVersions     []ResourceVersionSupport   `yaml:"fhirVersions"`
	Interactions     map[Interaction]bool       `yaml:"interactions"`
	SearchParameters *ResourceSearchParams      `yaml:"searchParameters"`
	Profiles         []ResourceProfile          `yaml:"profiles"`
}

func (c *ResourceConfig) defaultVersion() (Version, bool) {
	for _, v := range c.FHIRVersions {
		if v.Default {
			return v.Version, true
		}
	}
	return "", false
}

func (c *ResourceConfig) supportsVersion(v Version) bool {
	for _, sv := range c.FHIRVersions {
		if sv.Version == v {
			return true
		}
	}
	return false
}

func (c *ResourceConfig) interactionEnabled(i Interaction) bool {
	return c.Interactions[i]
}

// isSearchParamAllowed applies the resource's allow/deny configuration. A nil
// SearchParameters block means everything defined for the type is allowed.
func (c *ResourceConfig) isSearchParamAllowed(code string, isCommon bool) bool {
	sp := c.SearchParameters
	if sp == nil {
		return true
	}
	listed := containsFold(sp.Common, code) || containsFold(sp.ResourceSpecific, code)
	_ = isCommon
	switch sp.Mode {
	case SearchParamDenylist:
		return !listed
	case SearchParamAllowlist:
		return listed
	default:
		// Unrecognized mode: fail safe to "everything allowed", matching the
		// "no config -> true" default for the absent-block case.
		return true
	}
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// loadResourceConfigs reads every `*.yml`/`*.yaml` file under
// `<basePath>/resources` and returns one ResourceConfig per file, keyed by
// ResourceType. A malformed file is a load-time error (config is trusted,
// process-wide, immutable input, not runtime user input).
func loadResourceConfigs(basePath string) (map[string]*ResourceConfig, error) {
	dir := filepath.Join(basePath, "resources")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*ResourceConfig{}, nil
		}
		return nil, fmt.Errorf("registry: read resources dir: %w", err)
	}

	out := make(map[string]*ResourceConfig, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("registry: read %s: %w", name, err)
		}
		var cfg ResourceConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("registry: parse %s: %w", name, err)
		}
		if cfg.ResourceType == "" {
			return nil, fmt.Errorf("registry: %s missing resourceType", name)
		}
		if cfg.Enabled && len(cfg.FHIRVersions) == 0 {
			return nil, fmt.Errorf("registry: %s is enabled but declares no fhirVersions", name)
		}
		if n := countDefaults(cfg.FHIRVersions); len(cfg.FHIRVersions) > 0 && n != 1 {
			return nil, fmt.Errorf("registry: %s must have exactly one default fhirVersion, found %d", name, n)
		}
		out[cfg.ResourceType] = &cfg
	}
	return out, nil
}

func countDefaults(vs []ResourceVersionSupport) int {
	n := 0
	for _, v := range vs {
		if v.Default {
			n++
		}
	}
	return n
}
