package image

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers public image routes
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.GET("/images/*", handler.GetImage)
	g.DELETE("/sessions/:id", handler.EndSession)
}

// RegisterAdminRoutes registers invalidation routes
func RegisterAdminRoutes(g *echo.Group, handler *Handler) {
	g.POST("/images/invalidate", handler.Invalidate)
}
