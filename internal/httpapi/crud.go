package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/platform/notifier"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/service"
	"github.com/fhir-core/server/internal/store"
)

func (h *handler) handleCreate(c echo.Context, tenantID string, version registry.Version, resourceType string) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("could not read request body"))
	}
	out, err := h.d.Service.Create(c.Request().Context(), tenantID, version, resourceType, body)
	if err != nil {
		return h.writeError(c, err)
	}
	setVersionHeaders(c, out)
	location := fmt.Sprintf("%s/%s/%s/_history/%d", h.d.basePath(), resourceType, out.Resource["id"], out.VersionID)
	c.Response().Header().Set(echo.HeaderLocation, location)
	h.notify(c.Request().Context(), "create", tenantID, resourceType, fmt.Sprint(out.Resource["id"]), out)
	return c.JSON(http.StatusCreated, out.Resource)
}

func (h *handler) handleRead(c echo.Context, tenantID string, version registry.Version, resourceType, id string) error {
	out, err := h.d.Service.Read(c.Request().Context(), tenantID, version, resourceType, id)
	if err != nil {
		return h.writeError(c, err)
	}
	setVersionHeaders(c, out)
	return c.JSON(http.StatusOK, out.Resource)
}

func (h *handler) handleVRead(c echo.Context, tenantID string, version registry.Version, resourceType, id, versionID string) error {
	out, err := h.d.Service.VRead(c.Request().Context(), tenantID, version, resourceType, id, parseVersionID(versionID))
	if err != nil {
		return h.writeError(c, err)
	}
	setVersionHeaders(c, out)
	return c.JSON(http.StatusOK, out.Resource)
}

func (h *handler) handleUpdate(c echo.Context, tenantID string, version registry.Version, resourceType, id string) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("could not read request body"))
	}
	ifMatch := ifMatchVersion(c)
	out, err := h.d.Service.Update(c.Request().Context(), tenantID, version, resourceType, id, body, ifMatch)
	if err != nil {
		return h.writeError(c, err)
	}
	setVersionHeaders(c, out)
	status := http.StatusOK
	interaction := "update"
	if out.Created {
		status = http.StatusCreated
		interaction = "create"
		location := fmt.Sprintf("%s/%s/%s/_history/%d", h.d.basePath(), resourceType, id, out.VersionID)
		c.Response().Header().Set(echo.HeaderLocation, location)
	}
	h.notify(c.Request().Context(), interaction, tenantID, resourceType, id, out)
	return c.JSON(status, out.Resource)
}

func (h *handler) handlePatch(c echo.Context, tenantID string, version registry.Version, resourceType, id string) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("could not read request body"))
	}
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	apply, err := patchApplier(contentType, body)
	if err != nil {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	ifMatch := ifMatchVersion(c)
	out, err := h.d.Service.Patch(c.Request().Context(), tenantID, version, resourceType, id, apply, ifMatch)
	if err != nil {
		return h.writeError(c, err)
	}
	setVersionHeaders(c, out)
	h.notify(c.Request().Context(), "patch", tenantID, resourceType, id, out)
	return c.JSON(http.StatusOK, out.Resource)
}

func (h *handler) handleDelete(c echo.Context, tenantID string, version registry.Version, resourceType, id string) error {
	if err := h.d.Service.Delete(c.Request().Context(), tenantID, version, resourceType, id); err != nil {
		return h.writeError(c, err)
	}
	h.notify(c.Request().Context(), "delete", tenantID, resourceType, id, nil)
	return c.NoContent(http.StatusNoContent)
}

// notify publishes a lifecycle event for a completed write interaction.
// A nil Notifier (the common case when no caller configured one) makes
// this a no-op, so the call site never needs its own guard.
func (h *handler) notify(ctx context.Context, interaction, tenantID, resourceType, resourceID string, out *service.Outcome) {
	if h.d.Notifier == nil {
		return
	}
	ev := notifier.ResourceEvent{
		Interaction:  interaction,
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
	if out != nil {
		ev.VersionID = out.VersionID
		if body, err := json.Marshal(out.Resource); err == nil {
			ev.Resource = body
		}
	}
	_ = h.d.Notifier.Publish(ctx, ev)
}

func (h *handler) handleHistory(c echo.Context, tenantID string, version registry.Version, resourceType, id string) error {
	if id == "" {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("type-level history is not supported, request /ResourceType/id/_history"))
	}
	records, err := h.d.Service.History(c.Request().Context(), tenantID, version, resourceType, id)
	if err != nil {
		return h.writeError(c, err)
	}
	resources := make([]interface{}, len(records))
	for i, r := range records {
		resources[i] = r.Resource
	}
	baseURL := fmt.Sprintf("%s/%s/%s/_history", h.d.basePath(), resourceType, id)
	bundle := fhir.NewSearchBundle(resources, len(resources), baseURL)
	bundle.Type = "history"
	return c.JSON(http.StatusOK, bundle)
}

func (h *handler) handleSearch(c echo.Context, tenantID string, version registry.Version, resourceType string) error {
	query := map[string][]string(c.QueryParams())
	count, offset := pageParams(query)
	failOnUnknown := h.d.failOnUnknownSearchParam()

	page, err := h.d.Service.Search(c.Request().Context(), tenantID, version, resourceType, query, store.Pagination{Count: count, Offset: offset}, failOnUnknown)
	if err != nil {
		return h.writeError(c, err)
	}
	resources := make([]interface{}, len(page.Results))
	for i, r := range page.Results {
		resources[i] = r.Resource
	}
	bundle := fhir.NewSearchBundleWithLinks(resources, fhir.SearchBundleParams{
		BaseURL: fmt.Sprintf("%s/%s", h.d.basePath(), resourceType),
		Count:   count,
		Offset:  offset,
		Total:   page.Total,
	})
	return c.JSON(http.StatusOK, bundle)
}

func setVersionHeaders(c echo.Context, out *service.Outcome) {
	c.Response().Header().Set(echo.HeaderETag, fmt.Sprintf(`W/"%d"`, out.VersionID))
	c.Response().Header().Set("Last-Modified", out.LastUpdated.UTC().Format(http.TimeFormat))
}

func ifMatchVersion(c echo.Context) int {
	raw := c.Request().Header.Get("If-Match")
	if raw == "" {
		return 0
	}
	var v int
	fmt.Sscanf(stripWeak(raw), "%d", &v)
	return v
}

func stripWeak(etag string) string {
	s := etag
	if len(s) >= 2 && s[0] == 'W' && s[1] == '/' {
		s = s[2:]
	}
	for len(s) > 0 && (s[0] == '"') {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '"' {
		s = s[:len(s)-1]
	}
	return s
}

func pageParams(query map[string][]string) (count, offset int) {
	count = 20
	offset = 0
	if v := firstValue(query, "_count"); v != "" {
		fmt.Sscanf(v, "%d", &count)
	}
	if v := firstValue(query, "_offset"); v != "" {
		fmt.Sscanf(v, "%d", &offset)
	}
	if count < 1 {
		count = 1
	}
	if count > 1000 {
		count = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return count, offset
}

func firstValue(query map[string][]string, key string) string {
	if vs, ok := query[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func patchApplier(contentType string, body []byte) (func(map[string]interface{}) (map[string]interface{}, error), error) {
	switch {
	case strings.Contains(contentType, "json-patch"):
		ops, err := fhir.ParseJSONPatch(body)
		if err != nil {
			return nil, err
		}
		return func(current map[string]interface{}) (map[string]interface{}, error) {
			return fhir.ApplyJSONPatch(current, ops)
		}, nil
	default:
		patch, err := fhir.ParseMergePatch(body)
		if err != nil {
			return nil, err
		}
		return func(current map[string]interface{}) (map[string]interface{}, error) {
			return fhir.ApplyMergePatch(current, patch)
		}, nil
	}
}
