// Package httpapi implements the Router & ContentNegotiator (C10): the
// echo-based HTTP surface that resolves a request's tenant and FHIR
// version, dispatches to the ResourceService/BundleProcessor, and
// translates their outcomes back into FHIR HTTP responses (status codes,
// ETag/Location/X-FHIR-Version headers, OperationOutcome bodies).
package httpapi

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/fhir-core/server/internal/bundleproc"
	"github.com/fhir-core/server/internal/platform/fhir"
	"github.com/fhir-core/server/internal/platform/middleware"
	"github.com/fhir-core/server/internal/platform/notifier"
	"github.com/fhir-core/server/internal/registry"
	"github.com/fhir-core/server/internal/service"
	"github.com/fhir-core/server/internal/tenant"
)

// Deps bundles everything NewRouter needs to wire C1-C9 behind the HTTP
// surface. The fields mirror the component the field is named for.
type Deps struct {
	Registry *registry.Registry
	Tenant   *tenant.Resolver
	Service  *service.Service
	Bundle   *bundleproc.Processor
	Pool     *pgxpool.Pool
	Logger   zerolog.Logger
	// Notifier, when set, receives a ResourceEvent after every successful
	// write interaction and exposes a $subscribe WebSocket endpoint for
	// clients to watch a tenant/resource type in real time. Nil disables
	// both — the lifecycle seam is optional, not load-bearing.
	Notifier *notifier.Hub

	ServerBasePath   string // default "/fhir"
	TenantHeaderName string // default "X-Tenant-ID"
	ServerDescription string

	BodyLimit       string        // default "5M"
	BundleBodyLimit string        // default "20M"
	RequestTimeout  time.Duration // default 30s
	CORSOrigins     []string

	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig

	FailOnUnknownSearchParam bool
}

func (d Deps) failOnUnknownSearchParam() bool {
	return d.FailOnUnknownSearchParam
}

func (d Deps) basePath() string {
	if d.ServerBasePath == "" {
		return "/fhir"
	}
	return d.ServerBasePath
}

func (d Deps) tenantHeader() string {
	if d.TenantHeaderName == "" {
		return "X-Tenant-ID"
	}
	return d.TenantHeaderName
}

// NewRouter builds the echo.Echo instance implementing C10. The ambient
// middleware stack (logging, recovery, rate limiting, security headers,
// body limits, request timeout, input sanitation) is the same stack
// internal/platform/middleware already offers the rest of this server;
// content negotiation layers FHIR's _format/Accept rules on top.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestID())
	e.Use(middleware.Recovery(d.Logger))
	e.Use(middleware.Logger(d.Logger))
	e.Use(middleware.SecurityHeaders())

	if len(d.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: d.CORSOrigins,
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowHeaders: []string{"Content-Type", "Accept", "If-Match", "If-None-Exist", d.tenantHeader()},
		}))
	}

	bodyLimit := d.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "5M"
	}
	bundleLimit := d.BundleBodyLimit
	if bundleLimit == "" {
		bundleLimit = "20M"
	}
	e.Use(middleware.BodyLimit(bodyLimit, bundleLimit))

	timeout := d.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	e.Use(middleware.RequestTimeout(timeout))
	e.Use(middleware.SanitizeWithLogger(d.Logger))

	if d.RateLimitEnabled {
		cfg := d.RateLimit
		if cfg == (middleware.RateLimitConfig{}) {
			cfg = middleware.DefaultRateLimitConfig()
		}
		e.Use(middleware.RateLimit(cfg))
	}

	e.Use(fhir.ContentNegotiationMiddleware())

	h := &handler{d: d}
	base := d.basePath()
	e.Any(base, h.dispatch)
	e.Any(base+"/*", h.dispatch)

	if d.Notifier != nil {
		notifier.NewHandler(d.Notifier, d.Logger).Mount(e, base+"/$subscribe")
	}

	return e
}
