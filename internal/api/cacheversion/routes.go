package cacheversion

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the public version route
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.GET("/cache/version", handler.GetVersion)
}

// RegisterAdminRoutes registers the version update route
func RegisterAdminRoutes(g *echo.Group, handler *Handler) {
	g.PUT("/cache/version", handler.SetVersion)
}
