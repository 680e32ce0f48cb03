package apikey

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/pkg/auth"
	"github.com/lissto-dev/imagecache/pkg/config"
	"github.com/lissto-dev/imagecache/pkg/k8s"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/response"
)

// Handler handles API key management requests
type Handler struct {
	k8sClient      *k8s.Client
	namespace      string
	secretName     string
	apiKeysUpdater func([]config.APIKey)
}

// NewHandler creates a new API key handler. Keys are stored in the named
// secret and pushed to the running server through apiKeysUpdater.
func NewHandler(
	k8sClient *k8s.Client,
	namespace string,
	secretName string,
	apiKeysUpdater func([]config.APIKey),
) *Handler {
	return &Handler{
		k8sClient:      k8sClient,
		namespace:      namespace,
		secretName:     secretName,
		apiKeysUpdater: apiKeysUpdater,
	}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,max=64"`
	Role string `json:"role" validate:"required,oneof=admin editor user"`
}

// CreateAPIKeyResponse represents the response after creating an API key
type CreateAPIKeyResponse struct {
	APIKey string `json:"api_key"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// CreateAPIKey handles POST /api-keys
func (h *Handler) CreateAPIKey(c echo.Context) error {
	user, ok := middleware.GetUserFromContext(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}
	if user.Role != auth.Admin {
		logging.Logger.Warn("Non-admin user attempted to create API key",
			zap.String("user", user.Name),
			zap.String("role", user.Role.String()))
		return response.Forbidden(c, "Admin role required")
	}

	var req CreateAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		logging.Logger.Error("Failed to bind request", zap.Error(err))
		return response.BadRequest(c, "Invalid request")
	}
	if err := c.Validate(&req); err != nil {
		logging.Logger.Error("Request validation failed", zap.Error(err))
		return response.BadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	currentKeys, err := config.LoadAPIKeysFromSecret(ctx, h.k8sClient, h.namespace, h.secretName)
	if err != nil {
		logging.Logger.Error("Failed to load API keys from secret", zap.Error(err))
		return response.InternalServerError(c, "Failed to load API keys")
	}
	for _, key := range currentKeys {
		if key.Name == req.Name {
			return response.BadRequest(c, "API key with this name already exists")
		}
	}

	apiKeyValue := config.GenerateAPIKey(req.Role)
	updatedKeys := append(currentKeys, config.APIKey{
		Role:   req.Role,
		APIKey: apiKeyValue,
		Name:   req.Name,
	})

	if err := config.SaveAPIKeysToSecret(ctx, h.k8sClient, h.namespace, h.secretName, updatedKeys); err != nil {
		logging.Logger.Error("Failed to save API key to secret", zap.Error(err))
		return response.InternalServerError(c, "Failed to save API key")
	}
	if h.apiKeysUpdater != nil {
		h.apiKeysUpdater(updatedKeys)
	}

	logging.Logger.Info("API key created",
		zap.String("name", req.Name),
		zap.String("role", req.Role),
		zap.String("created_by", user.Name),
		zap.String("key_prefix", apiKeyValue[:min(8, len(apiKeyValue))]+"..."))

	// The key value is only ever returned here
	return response.Created(c, "API key created", CreateAPIKeyResponse{
		APIKey: apiKeyValue,
		Name:   req.Name,
		Role:   req.Role,
	})
}
