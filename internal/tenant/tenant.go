// Package tenant implements the TenantResolver (C3): resolving a request's
// X-Tenant-ID header into the short internal tenant identifier used to
// scope every row in internal/store, behind a TTL cache so that steady-state
// traffic never touches Postgres per request.
package tenant

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Tenant is one row of the tenants table (spec §3).
type Tenant struct {
	ExternalID uuid.UUID
	InternalID string
	Name       string
	Enabled    bool
	CreatedAt  time.Time
}

// Sentinel conditions raised by Resolve; callers map these onto the
// OperationOutcome/HTTP status table of spec §7.
var (
	ErrBadExternalID  = errors.New("tenant: malformed external id")
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrTenantDisabled = errors.New("tenant: disabled")
)

// DefaultTTL is the cache entry lifetime applied when a Resolver is built
// with SetTTL(0), matching spec §4.3's "default 5 minutes".
const DefaultTTL = 5 * time.Minute
