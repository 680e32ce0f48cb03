package apikey

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers API key management routes.
// Authentication is applied by the group; the handler checks for admin.
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.POST("/api-keys", handler.CreateAPIKey)
}
