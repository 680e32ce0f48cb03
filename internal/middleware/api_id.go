package middleware

import (
	"github.com/labstack/echo/v4"
)

// HeaderInstanceID identifies the deployment that served a response
const HeaderInstanceID = "X-Imagecache-Instance-ID"

// APIIDMiddleware adds the instance ID header to all responses
// This lets clients tell replicas of different deployments apart
func APIIDMiddleware(instanceID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(HeaderInstanceID, instanceID)
			return next(c)
		}
	}
}
