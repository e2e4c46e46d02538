// Package middleware holds gateway-local echo middleware.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// TenantKey is the context key holding the caller's tenant id.
const TenantKey ContextKey = "tenant_id"

// HeaderTenantID is the header the gateway reads the tenant from.
const HeaderTenantID = "X-Tenant-ID"

// RequireTenant extracts X-Tenant-ID into the request context and rejects
// requests without it. Every data-plane route is tenant-scoped.
func RequireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenant := c.Request().Header.Get(HeaderTenantID)
			if tenant == "" {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error": "X-Tenant-ID header is required",
				})
			}
			c.Set(string(TenantKey), tenant)
			return next(c)
		}
	}
}

// Tenant returns the tenant id stored by RequireTenant, or "".
func Tenant(c echo.Context) string {
	tenant, _ := c.Get(string(TenantKey)).(string)
	return tenant
}
