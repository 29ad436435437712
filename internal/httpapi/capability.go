package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/registry"
)

// fhirCoreVersion maps this server's release labels onto the literal FHIR
// core version string CapabilityStatement.fhirVersion expects (spec §4.10).
func fhirCoreVersion(v registry.Version) string {
	switch v {
	case registry.R4B:
		return "4.3.0"
	case registry.R5:
		return "5.0.0"
	default:
		return string(v)
	}
}

func (h *handler) handleMetadata(c echo.Context, path string) error {
	version := explicitVersionFromPath(path, h.d.basePath())
	if version == "" {
		version = registry.R5
		for _, v := range registry.AllVersions {
			if h.d.Registry.VersionEnabled(v) {
				version = v
				break
			}
		}
	}
	if !h.d.Registry.VersionEnabled(version) {
		return h.writeOutcome(c, http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, "FHIR version "+string(version)+" is not enabled"))
	}

	baseURL := h.d.basePath()
	description := h.d.ServerDescription
	if description == "" {
		description = "FHIR " + string(version) + " multi-tenant server"
	}

	var resources []fhir.CSResource
	for _, rt := range h.d.Registry.ResourceTypes() {
		if !h.d.Registry.SupportsVersion(rt, version) {
			continue
		}
		resources = append(resources, resourceCapability(h.d.Registry, version, rt))
	}

	cs := fhir.NewCapabilityStatement(baseURL, fhirCoreVersion(version), description, resources)
	return c.JSON(http.StatusOK, cs)
}

func resourceCapability(reg *registry.Registry, version registry.Version, resourceType string) fhir.CSResource {
	enabled := reg.EnabledInteractions(resourceType)
	var interactions []fhir.CSInteraction
	for _, i := range []registry.Interaction{
		registry.InteractionRead, registry.InteractionVRead, registry.InteractionUpdate,
		registry.InteractionPatch, registry.InteractionDelete, registry.InteractionHistory,
		registry.InteractionCreate, registry.InteractionSearch,
	} {
		if enabled[i] {
			code := string(i)
			if i == registry.InteractionSearch {
				code = "search-type"
			}
			interactions = append(interactions, fhir.CSInteraction{Code: code})
		}
	}

	params := reg.AllowedSearchParameters(version, resourceType)
	searchParams := make([]fhir.CSSearchParam, 0, len(params))
	for _, sp := range params {
		searchParams = append(searchParams, fhir.CSSearchParam{
			Name:       sp.Code,
			Type:       string(sp.Type),
			Definition: sp.URL,
		})
	}

	return fhir.CSResource{
		Type:        resourceType,
		Interaction: interactions,
		SearchParam: searchParams,
		Versioning:  "versioned",
		ReadHistory: enabled[registry.InteractionHistory],
	}
}
