package image

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/lissto-dev/imagecache/internal/api/common"
	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/response"
)

// Handler handles image resolution and invalidation requests
type Handler struct {
	coordinator *coordinator.Coordinator
	sessions    *cache.Sessions
}

// NewHandler creates a new image handler
func NewHandler(coord *coordinator.Coordinator, sessions *cache.Sessions) *Handler {
	return &Handler{coordinator: coord, sessions: sessions}
}

// GetImage handles GET /images/*
// Resolution failures still answer 200 with the fallback URL.
func (h *Handler) GetImage(c echo.Context) error {
	ctx := c.Request().Context()
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil || key == "" {
		return response.BadRequest(c, "image key is required")
	}

	res := h.coordinator.GetImageURL(ctx, key, c.QueryParam("size"))
	resp := common.NewImageResponse(res)
	if c.QueryParam("plan") == "true" {
		plan := h.coordinator.LoadingPlan(ctx, key)
		resp.Plan = &plan
	}
	return response.OK(c, "", resp)
}

// Invalidate handles POST /images/invalidate
func (h *Handler) Invalidate(c echo.Context) error {
	var req common.InvalidateRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	if req.Key == "" {
		h.coordinator.InvalidateAll(ctx)
		return response.OK(c, "All images invalidated", common.InvalidateResponse{Scope: string(events.ScopeGlobal)})
	}
	h.coordinator.InvalidateImage(ctx, req.Key)
	return response.OK(c, "Image invalidated", common.InvalidateResponse{Key: req.Key, Scope: string(events.ScopeKey)})
}

// EndSession handles DELETE /sessions/:id
func (h *Handler) EndSession(c echo.Context) error {
	h.sessions.End(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
