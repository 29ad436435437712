package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fhir-core/server/internal/fhirver"
	"github.com/fhir-core/server/internal/platform/db"
	"github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/registry"
)

// acquireConn attaches a pooled connection to ctx for the store layer to
// pick up via db.ConnFromContext. h.d.Pool is nil in test/dev
// configurations that run internal/store.MemStore, which never reads the
// context connection; in that case acquireConn is a no-op so the router
// can be exercised without a live Postgres.
func (h *handler) acquireConn(ctx context.Context) (context.Context, func(), error) {
	if h.d.Pool == nil {
		return ctx, func() {}, nil
	}
	conn, err := h.d.Pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, err
	}
	return db.WithConn(ctx, conn), conn.Release, nil
}

// handler holds the dependencies needed to serve every route registered
// by NewRouter. There is exactly one per server process.
type handler struct {
	d Deps
}

// dispatch is the single entry point for every /fhir request: it resolves
// the FHIR version from the path (C4), resolves the caller's tenant (C3),
// attaches a pooled connection to the request context, then routes on
// method and tail path to the per-interaction handlers.
func (h *handler) dispatch(c echo.Context) error {
	ctx := c.Request().Context()
	path := c.Request().URL.Path

	if isMetadataPath(path, h.d.basePath()) {
		return h.handleMetadata(c, path)
	}

	if isBundleRoot(path, h.d.basePath()) {
		if c.Request().Method != http.MethodPost {
			return h.writeOutcome(c, http.StatusMethodNotAllowed, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, "only POST is supported at the base URL"))
		}
		tenantHeader := c.Request().Header.Get(h.d.tenantHeader())
		tenantID, err := h.d.Tenant.Resolve(ctx, tenantHeader)
		if err != nil {
			return h.writeError(c, err)
		}
		ctx, release, err := h.acquireConn(ctx)
		if err != nil {
			return h.writeOutcome(c, http.StatusServiceUnavailable, fhir.InternalErrorOutcome("could not acquire a database connection"))
		}
		defer release()
		c.SetRequest(c.Request().WithContext(ctx))
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
		return h.handleBundle(c, tenantID, version)
	}

	res, err := fhirver.Resolve(path, h.d.Registry)
	if err != nil {
		return h.writeError(c, err)
	}

	tenantHeader := c.Request().Header.Get(h.d.tenantHeader())
	tenantID, err := h.d.Tenant.Resolve(ctx, tenantHeader)
	if err != nil {
		return h.writeError(c, err)
	}

	ctx, release, err := h.acquireConn(ctx)
	if err != nil {
		return h.writeOutcome(c, http.StatusServiceUnavailable, fhir.InternalErrorOutcome("could not acquire a database connection"))
	}
	defer release()
	c.SetRequest(c.Request().WithContext(ctx))

	c.Response().Header().Set("X-FHIR-Version", string(res.Version))

	tail := strings.Trim(res.TailPath, "/")
	var segments []string
	if tail != "" {
		segments = strings.Split(tail, "/")
	}

	method := c.Request().Method
	switch {
	case len(segments) == 0:
		switch method {
		case http.MethodGet, http.MethodHead:
			return h.handleSearch(c, tenantID, res.Version, res.ResourceType)
		case http.MethodPost:
			return h.handleCreate(c, tenantID, res.Version, res.ResourceType)
		}
	case len(segments) == 1 && segments[0] == "_history":
		if method == http.MethodGet {
			return h.handleHistory(c, tenantID, res.Version, res.ResourceType, "")
		}
	case len(segments) == 1:
		id := segments[0]
		switch method {
		case http.MethodGet, http.MethodHead:
			return h.handleRead(c, tenantID, res.Version, res.ResourceType, id)
		case http.MethodPut:
			return h.handleUpdate(c, tenantID, res.Version, res.ResourceType, id)
		case http.MethodPatch:
			return h.handlePatch(c, tenantID, res.Version, res.ResourceType, id)
		case http.MethodDelete:
			return h.handleDelete(c, tenantID, res.Version, res.ResourceType, id)
		}
	case len(segments) == 2 && segments[1] == "_history":
		if method == http.MethodGet {
			return h.handleHistory(c, tenantID, res.Version, res.ResourceType, segments[0])
		}
	case len(segments) == 3 && segments[1] == "_history":
		if method == http.MethodGet {
			return h.handleVRead(c, tenantID, res.Version, res.ResourceType, segments[0], segments[2])
		}
	}

	return h.writeOutcome(c, http.StatusMethodNotAllowed, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, fmt.Sprintf("%s not supported on this path", method)))
}

// isBundleRoot recognizes the base URL itself (/fhir, /fhir/, /fhir/r4b,
// /fhir/r5), the target of a batch/transaction Bundle POST.
func isBundleRoot(path, base string) bool {
	trimmed := strings.Trim(strings.TrimPrefix(strings.Trim(path, "/"), strings.Trim(base, "/")), "/")
	if trimmed == "" {
		return true
	}
	v := strings.ToLower(trimmed)
	return v == "r4b" || v == "r5"
}

// isMetadataPath recognizes /fhir/metadata and /fhir/(r4b|r5)/metadata,
// which name no resource type and so fall outside fhirver.Resolve's
// registry-backed lookup.
func isMetadataPath(path, base string) bool {
	trimmed := strings.Trim(strings.TrimPrefix(strings.Trim(path, "/"), strings.Trim(base, "/")), "/")
	segments := strings.Split(trimmed, "/")
	switch len(segments) {
	case 1:
		return segments[0] == "metadata"
	case 2:
		v := strings.ToLower(segments[0])
		return (v == "r4b" || v == "r5") && segments[1] == "metadata"
	}
	return false
}

func parseVersionID(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func explicitVersionFromPath(path, base string) registry.Version {
	trimmed := strings.Trim(strings.TrimPrefix(strings.Trim(path, "/"), strings.Trim(base, "/")), "/")
	segments := strings.SplitN(trimmed, "/", 2)
	switch strings.ToLower(segments[0]) {
	case "r4b":
		return registry.R4B
	case "r5":
		return registry.R5
	}
	return ""
}
