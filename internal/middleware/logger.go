package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/network"
)

// LoggerMiddleware logs each request through the structured logger
func LoggerMiddleware() echo.MiddlewareFunc {
	log := logging.Component("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogHeaders: []string{HeaderSessionID, network.HeaderECT},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if ids := v.Headers[http.CanonicalHeaderKey(HeaderSessionID)]; len(ids) > 0 {
				fields = append(fields, zap.String("session", ids[0]))
			}
			if ect := v.Headers[http.CanonicalHeaderKey(network.HeaderECT)]; len(ect) > 0 {
				fields = append(fields, zap.String("ect", ect[0]))
			}
			if v.Error != nil {
				log.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("Request", fields...)
			return nil
		},
	})
}

// CORSMiddleware lets browsers send network hints and read cache headers
func CORSMiddleware() echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, HeaderAPIKey,
			HeaderSessionID, network.HeaderECT, network.HeaderRTT, network.HeaderSaveData, network.HeaderOffline,
		},
		ExposeHeaders: []string{HeaderInstanceID, HeaderCacheVersion},
	})
}

// RecoverMiddleware turns handler panics into 500s and logs the stack
func RecoverMiddleware() echo.MiddlewareFunc {
	log := logging.Component("http")
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("Handler panic",
				zap.String("path", c.Path()),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	})
}
