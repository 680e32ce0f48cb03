package cacheversion

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/internal/api/common"
	"github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/response"
	"github.com/lissto-dev/imagecache/pkg/version"
)

// Handler handles global cache version requests
type Handler struct {
	coordinator *coordinator.Coordinator
}

// NewHandler creates a new cache version handler
func NewHandler(coord *coordinator.Coordinator) *Handler {
	return &Handler{coordinator: coord}
}

// GetVersion handles GET /cache/version
func (h *Handler) GetVersion(c echo.Context) error {
	return response.OK(c, "", common.VersionResponse{Version: h.coordinator.Version()})
}

// SetVersion handles PUT /cache/version
func (h *Handler) SetVersion(c echo.Context) error {
	var req common.SetVersionRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	err := h.coordinator.SetGlobalVersion(c.Request().Context(), req.Version)
	if errors.Is(err, version.ErrInvalidVersion) {
		return response.BadRequest(c, err.Error())
	}
	if err != nil {
		logging.Logger.Error("Failed to set cache version",
			zap.String("version", req.Version),
			zap.Error(err))
		return response.InternalServerError(c, "failed to set cache version")
	}

	if user, ok := middleware.GetUserFromContext(c); ok {
		logging.Logger.Info("Cache version changed by API",
			zap.String("user", user.Name),
			zap.String("version", req.Version))
	}
	return response.OK(c, "Cache version updated", common.VersionResponse{Version: h.coordinator.Version()})
}
