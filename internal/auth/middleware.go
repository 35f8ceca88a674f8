package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/httpx"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

// ClaimsFromContext returns the verified claims attached by RequireTenant.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok
}

// RequireTenant verifies the bearer token and attaches the tenant context.
// Handlers behind it can rely on a non-empty tenant id.
func RequireTenant(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(raw, "Bearer ") {
				httpx.WriteError(w, apperr.Forbidden("Missing bearer token"))
				return
			}
			claims, err := ParseAndVerifyHS256(strings.TrimPrefix(raw, "Bearer "), secret)
			if err != nil || claims.TenantID == "" {
				httpx.WriteError(w, apperr.Forbidden("Invalid token"))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwner rejects staff-role tokens. Schedule and service mutations are
// owner-only.
func RequireOwner(ctx context.Context) error {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return apperr.Forbidden("Missing tenant context")
	}
	if claims.Role == RoleStaff {
		return apperr.Forbidden("Insufficient role")
	}
	return nil
}
