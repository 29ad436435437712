package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhir-core/server/internal/fhirver"
	"github.com/fhir-core/server/internal/guard"
	"github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/service"
	"github.com/fhir-core/server/internal/tenant"
)

// writeError maps a sentinel error from any of C1-C9 onto the HTTP status
// and OperationOutcome table of spec §7.
func (h *handler) writeError(c echo.Context, err error) error {
	status, outcome := classify(err)
	return h.writeOutcome(c, status, outcome)
}

func (h *handler) writeOutcome(c echo.Context, status int, outcome *fhir.OperationOutcome) error {
	return c.JSON(status, outcome)
}

func classify(err error) (int, *fhir.OperationOutcome) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, service.ErrGone):
		return http.StatusGone, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeDeleted, err.Error())
	case errors.Is(err, service.ErrVersionConflict):
		return http.StatusConflict, fhir.ConflictOutcome(err.Error())
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, fhir.ValidationOutcome("resource", err.Error())
	case errors.Is(err, service.ErrPreconditionReq):
		return http.StatusPreconditionFailed, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeRequired, err.Error())
	case errors.Is(err, guard.ErrVersionNotSupported):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error())
	case errors.Is(err, guard.ErrInteractionDisabled):
		return http.StatusMethodNotAllowed, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error())
	case errors.Is(err, registry.ErrNotConfigured):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, registry.ErrResourceDisabled):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error())
	case errors.Is(err, tenant.ErrBadExternalID):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeValue, err.Error())
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusUnauthorized, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeSecurity, err.Error())
	case errors.Is(err, tenant.ErrTenantDisabled):
		return http.StatusForbidden, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeSecurity, err.Error())
	case errors.Is(err, fhirver.ErrMalformedPath):
		return http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error())
	default:
		return http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error())
	}
}
