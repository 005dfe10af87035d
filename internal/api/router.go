package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/permd/internal/auth"
	"github.com/victorivanov/permd/internal/permissions"
	"github.com/victorivanov/permd/internal/service"
)

// Dependencies holds all handler instances and middleware for route wiring.
type Dependencies struct {
	Permissions *PermissionHandler
	Health      *HealthHandler
	Service     *service.PermissionService

	TokenService *auth.TokenService
	RateLimiter  RateLimiter // nil disables rate limiting
	RateLimit    int
	RateWindow   time.Duration
}

// SetupRouter registers all API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	e.GET("/health", deps.Health.Health)

	v1 := e.Group("/api/v1")

	// Protected routes: JWT auth plus the general rate limit
	middlewares := []echo.MiddlewareFunc{deps.TokenService.Middleware()}
	if deps.RateLimiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(deps.RateLimiter, deps.RateLimit, deps.RateWindow))
	}
	protected := v1.Group("", middlewares...)

	// Vocabulary
	protected.GET("/permissions", deps.Permissions.ListPermissions)

	// Servers
	protected.GET("/servers/:id/roles", deps.Permissions.ListRoles)
	protected.GET("/servers/:id/sections", deps.Permissions.ListSections)
	protected.GET("/servers/:id/members/:user_id/permissions", deps.Permissions.GetServerPermissions)
	protected.GET("/servers/:id/members/:user_id/channels", deps.Permissions.ListServerChannelPermissions)
	// Server-level ManagePermissions is the only way to edit roles, so
	// callers without it are turned away before their body is read.
	protected.POST("/servers/:id/roles/:role_id/permissions/preview", deps.Permissions.PreviewRoleOverwrite,
		RequireServerPermission(permissions.PermManagePermissions, deps.Service),
	)

	// Channels
	protected.GET("/channels/:id/permissions/:user_id", deps.Permissions.GetChannelPermissions)
	// No server-level gate: a channel overwrite may grant ManagePermissions
	// in that channel alone, which the service checks.
	protected.POST("/channels/:id/permissions/:role_id/preview", deps.Permissions.PreviewChannelOverwrite)
}
