package apitoken

import (
	"github.com/labstack/echo/v4"

	"github.com/rowforge/extractqueue/pkg/auth"
)

// RegisterRoutes registers API token routes under the project's own path,
// gated by pkg/auth's caller-identity middleware.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/projects/:projectId/tokens")
	g.Use(authMiddleware.RequireAuth())

	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:tokenId", h.Get)
	g.DELETE("/:tokenId", h.Revoke)
}
