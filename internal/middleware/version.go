package middleware

import (
	"github.com/labstack/echo/v4"
)

// HeaderCacheVersion carries the global cache version
const HeaderCacheVersion = "X-Imagecache-Version"

// VersionMiddleware adds the current global cache version to all responses
// so clients can drop their own caches when it changes
func VersionMiddleware(current func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(HeaderCacheVersion, current())
			return next(c)
		}
	}
}
