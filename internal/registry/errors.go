package registry

import "errors"

// Sentinel conditions raised by the registry. Callers (guard, service,
// httpapi) map these onto the OperationOutcome/HTTP status table.
var (
	ErrNotConfigured    = errors.New("registry: resource type not configured")
	ErrResourceDisabled = errors.New("registry: resource type disabled")
)
