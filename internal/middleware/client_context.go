package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/network"
)

const (
	// HeaderSessionID scopes the per-session cache
	HeaderSessionID = "X-Session-ID"
	// SessionCookie is read when the header is absent
	SessionCookie = "imagecache_session"
)

// ClientContextMiddleware puts the caller's network conditions and session
// ID on the request context
func ClientContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := network.WithInfo(req.Context(), network.FromRequest(req))

			if id := sessionID(c); id != "" {
				ctx = cache.WithSessionID(ctx, id)
			}
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func sessionID(c echo.Context) string {
	if id := c.Request().Header.Get(HeaderSessionID); id != "" {
		return id
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
