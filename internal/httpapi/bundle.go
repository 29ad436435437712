package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fhir-core/server/internal/bundleproc"
	"github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/registry"
)

// handleBundle decodes the posted Bundle, dispatches each entry to
// bundleproc.Processor according to Bundle.type, and re-assembles the
// per-entry results into a batch-response or transaction-response Bundle.
func (h *handler) handleBundle(c echo.Context, tenantID string, version registry.Version) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("could not read request body"))
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("invalid Bundle JSON: "+err.Error()))
	}
	if bundle.ResourceType != "Bundle" {
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("resourceType must be Bundle"))
	}

	entries := make([]bundleproc.EntryRequest, len(bundle.Entry))
	for i, e := range bundle.Entry {
		entries[i] = entryRequestFrom(e)
	}

	ctx := c.Request().Context()
	var results []bundleproc.EntryResult
	switch bundle.Type {
	case "batch":
		results, err = h.d.Bundle.ProcessBatch(ctx, tenantID, version, entries)
	case "transaction":
		results, err = h.d.Bundle.ProcessTransaction(ctx, tenantID, version, entries)
		if err != nil {
			return h.writeOutcome(c, http.StatusConflict, fhir.ConflictOutcome(err.Error()))
		}
	default:
		return h.writeOutcome(c, http.StatusBadRequest, fhir.ErrorOutcome("Bundle.type must be \"batch\" or \"transaction\", got "+bundle.Type))
	}
	if err != nil {
		return h.writeOutcome(c, http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}

	responseEntries := make([]fhir.BundleEntry, len(results))
	for i, r := range results {
		responseEntries[i] = bundleEntryFrom(r)
	}

	var response *fhir.Bundle
	if bundle.Type == "transaction" {
		response = fhir.NewTransactionResponse(responseEntries)
	} else {
		response = fhir.NewBatchResponse(responseEntries)
	}
	return c.JSON(http.StatusOK, response)
}

// entryRequestFrom translates one inbound BundleEntry into the
// bundleproc.EntryRequest it expects, parsing Bundle.entry.request.url
// into resourceType/id the way the FHIR REST URL grammar defines it.
func entryRequestFrom(e fhir.BundleEntry) bundleproc.EntryRequest {
	req := bundleproc.EntryRequest{}
	if e.Request != nil {
		req.Method = e.Request.Method
		req.URL = e.Request.URL
	}
	req.Body = []byte(e.Resource)

	url := req.URL
	ifNoneExist := ""
	if idx := strings.Index(url, "?"); idx >= 0 {
		ifNoneExist = url[idx+1:]
		url = url[:idx]
	}
	parts := strings.Split(strings.Trim(url, "/"), "/")
	if len(parts) > 0 {
		req.ResourceType = parts[0]
	}
	if len(parts) > 1 {
		req.ResourceID = parts[1]
	}
	if strings.EqualFold(req.Method, http.MethodPost) {
		req.IfNoneExist = ifNoneExist
	}
	return req
}

func bundleEntryFrom(r bundleproc.EntryResult) fhir.BundleEntry {
	status := fmt.Sprintf("%d", r.Status)
	entry := fhir.BundleEntry{
		Response: &fhir.BundleResponse{
			Status:   status,
			Location: r.Location,
		},
	}
	if !r.LastModified.IsZero() {
		lm := r.LastModified.UTC()
		entry.Response.LastModified = &lm
	}
	if r.Err != nil {
		_, outcome := classify(r.Err)
		raw, _ := json.Marshal(outcome)
		entry.Response.Outcome = json.RawMessage(raw)
	} else if r.Resource != nil {
		raw, _ := json.Marshal(r.Resource)
		entry.Resource = raw
	}
	return entry
}
