package user

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lissto-dev/imagecache/internal/api/common"
	"github.com/lissto-dev/imagecache/internal/middleware"
)

// Handler handles user-related HTTP requests
type Handler struct{}

// NewHandler creates a new user handler
func NewHandler() *Handler {
	return &Handler{}
}

// GetCurrentUser handles GET /user or GET /user/me
func (h *Handler) GetCurrentUser(c echo.Context) error {
	user, ok := middleware.GetUserFromContext(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}

	return c.JSON(http.StatusOK, common.UserInfoResponse{
		Name: user.Name,
		Role: user.Role.String(),
	})
}
