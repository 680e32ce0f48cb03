package consistency

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/consistency"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/response"
)

// Handler runs consistency checks on demand
type Handler struct {
	checker *consistency.Checker
}

// NewHandler creates a new consistency handler
func NewHandler(checker *consistency.Checker) *Handler {
	return &Handler{checker: checker}
}

// Check handles POST /consistency/check
func (h *Handler) Check(c echo.Context) error {
	res, err := h.checker.CheckAndFix(c.Request().Context())
	if err != nil {
		logging.Logger.Error("Consistency check failed", zap.Error(err))
		return response.InternalServerError(c, "consistency check failed")
	}
	return response.OK(c, "Consistency check completed", res)
}

// RegisterRoutes registers consistency routes
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.POST("/consistency/check", handler.Check)
}
