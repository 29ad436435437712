package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

// IdentityKey is the context key Identity stashes the parsed Claims under.
const IdentityKey contextKey = "identity_claims"

// Claims is the minimal bearer-token payload this server reads. It is not
// a full OIDC/SMART claim set (the plugin orchestrator that would validate
// scopes, consent, and break-glass access is out of scope here) — just the
// tenant/role hint a standalone deployment can use ahead of C3's header-based
// TenantResolver.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Identity parses a bearer token's claims, when present, and attaches them
// to the request context under IdentityKey. It never rejects a request for
// a missing or unparsable token: enforcing that a token is required is the
// plugin orchestrator's job, not this server's. secret is the HMAC signing
// key used in standalone/dev deployments; issuer/audience are checked when
// non-empty.
func Identity(secret []byte, issuer, audience string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return next(c)
			}

			var opts []jwt.ParserOption
			if issuer != "" {
				opts = append(opts, jwt.WithIssuer(issuer))
			}
			if audience != "" {
				opts = append(opts, jwt.WithAudience(audience))
			}
			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, opts...)
			if err != nil || !parsed.Valid {
				return next(c)
			}

			ctx := context.WithValue(c.Request().Context(), IdentityKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// FromContext returns the Claims attached by Identity, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(IdentityKey).(*Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
