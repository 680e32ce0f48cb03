package middleware

import (
	"github.com/labstack/echo/v4"

	authpkg "github.com/lissto-dev/imagecache/pkg/auth"
	"github.com/lissto-dev/imagecache/pkg/config"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/response"
)

// HeaderAPIKey carries the API key
const HeaderAPIKey = "X-API-Key"

// User represents an authenticated API key holder
type User struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Role authpkg.Role `json:"role"`
}

// APIKeyMiddleware validates API keys and stores the caller in the context
func APIKeyMiddleware(apiKeys []config.APIKey) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get(HeaderAPIKey)
			if apiKey == "" {
				return response.Unauthorized(c, "API key required")
			}

			keyData, found := config.FindAPIKeyByKey(apiKeys, apiKey)
			if !found {
				logging.LogDenied("invalid api key", "", c.Path())
				return response.Unauthorized(c, "Invalid API key")
			}

			c.Set("user", &User{
				ID:   keyData.Name,
				Name: keyData.Name,
				Role: authpkg.ParseRole(keyData.Role),
			})
			return next(c)
		}
	}
}

// RequireRole middleware checks if user has sufficient role permissions
func RequireRole(requiredRole authpkg.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := GetUserFromContext(c)
			if !ok {
				return response.Unauthorized(c, "User not authenticated")
			}

			if !user.Role.HasPermission(requiredRole) {
				logging.LogDenied("insufficient role", user.Name, c.Path())
				return response.Forbidden(c, "Insufficient permissions. Required: "+requiredRole.String())
			}

			return next(c)
		}
	}
}

// GetUserFromContext extracts user from Echo context
func GetUserFromContext(c echo.Context) (*User, bool) {
	user, ok := c.Get("user").(*User)
	return user, ok && user != nil
}
