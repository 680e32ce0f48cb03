// Package response writes the JSON envelope every API endpoint answers with
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success sends a successful response
func Success(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends an error response. Server-side failures are also logged with
// the request path.
func Error(c echo.Context, code int, message string) error {
	if code >= http.StatusInternalServerError {
		logging.Logger.Warn("Request failed",
			zap.Int("status", code),
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.String("error", message))
	}
	return c.JSON(code, Response{
		Success: false,
		Error:   message,
	})
}

// OK sends a 200 OK response
func OK(c echo.Context, message string, data any) error {
	return Success(c, http.StatusOK, message, data)
}

// Created sends a 201 Created response
func Created(c echo.Context, message string, data any) error {
	return Success(c, http.StatusCreated, message, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c echo.Context, message string) error {
	return Error(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(c echo.Context, message string) error {
	return Error(c, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(c echo.Context, message string) error {
	return Error(c, http.StatusForbidden, message)
}

// InternalServerError sends a 500 Internal Server Error response
func InternalServerError(c echo.Context, message string) error {
	return Error(c, http.StatusInternalServerError, message)
}
