package api

import (
	"github.com/labstack/echo/v4"
	"github.com/victorivanov/permd/internal/auth"
	"github.com/victorivanov/permd/internal/permissions"
	"github.com/victorivanov/permd/internal/service"
)

// RequireServerPermission returns middleware that checks server-level
// permissions against the mirror. It expects the route to have an ":id"
// param for the server ID.
func RequireServerPermission(perm permissions.Permission, svc *service.PermissionService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := svc.RequireServerPermission(c.Request().Context(), c.Param("id"), auth.GetUserID(c), perm)
			if err != nil {
				return mapServiceError(c, err)
			}
			return next(c)
		}
	}
}
