package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/internal/api/apikey"
	"github.com/lissto-dev/imagecache/internal/api/cacheversion"
	apiconsistency "github.com/lissto-dev/imagecache/internal/api/consistency"
	apievents "github.com/lissto-dev/imagecache/internal/api/events"
	"github.com/lissto-dev/imagecache/internal/api/image"
	"github.com/lissto-dev/imagecache/internal/api/user"
	"github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/pkg/auth"
	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/config"
	"github.com/lissto-dev/imagecache/pkg/consistency"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/k8s"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/worker"
)

// VersionInfo contains build version information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// Deps are the components the HTTP surface is built from
type Deps struct {
	Coordinator *coordinator.Coordinator
	Sessions    *cache.Sessions
	Checker     *consistency.Checker
	// Worker is nil when the offline worker is disabled or failed to install
	Worker       *worker.Client
	WorkerOrigin string
	// K8sClient enables API key management when APIKeysSecret is set
	K8sClient     *k8s.Client
	Namespace     string
	APIKeysSecret string
}

// Server represents the API server
type Server struct {
	echo        *echo.Echo
	apiKeys     []config.APIKey
	apiKeysMu   sync.RWMutex
	deps        Deps
	instanceID  string
	publicURL   string
	versionInfo *VersionInfo
}

// GetAPIKeys returns a copy of the current API keys
func (s *Server) GetAPIKeys() []config.APIKey {
	s.apiKeysMu.RLock()
	defer s.apiKeysMu.RUnlock()
	keys := make([]config.APIKey, len(s.apiKeys))
	copy(keys, s.apiKeys)
	return keys
}

// UpdateAPIKeys updates the in-memory API keys list
func (s *Server) UpdateAPIKeys(keys []config.APIKey) {
	s.apiKeysMu.Lock()
	defer s.apiKeysMu.Unlock()
	s.apiKeys = make([]config.APIKey, len(keys))
	copy(s.apiKeys, keys)
}

// New creates a new API server instance
func New(
	e *echo.Echo,
	apiKeys []config.APIKey,
	deps Deps,
	instanceID string,
	publicURL string,
	versionInfo *VersionInfo,
) *Server {
	srv := &Server{
		echo:        e,
		apiKeys:     apiKeys,
		deps:        deps,
		instanceID:  instanceID,
		publicURL:   publicURL,
		versionInfo: versionInfo,
	}

	imageHandler := image.NewHandler(deps.Coordinator, deps.Sessions)
	versionHandler := cacheversion.NewHandler(deps.Coordinator)
	eventsHandler := apievents.NewHandler(deps.Coordinator.Bus())

	// Public routes carry the caller's network conditions and session
	api := e.Group("/api/v1")
	api.Use(middleware.ClientContextMiddleware())
	api.Use(middleware.VersionMiddleware(deps.Coordinator.Version))

	image.RegisterRoutes(api, imageHandler)
	cacheversion.RegisterRoutes(api, versionHandler)
	apievents.RegisterRoutes(api, eventsHandler)

	user.RegisterRoutes(api.Group("/user", srv.keyAuth), user.NewHandler())

	// Editors may invalidate images; everything else under /admin needs Admin
	editor := api.Group("/admin", srv.keyAuth, middleware.RequireRole(auth.Editor))
	image.RegisterAdminRoutes(editor, imageHandler)

	admin := editor.Group("", middleware.RequireRole(auth.Admin))
	cacheversion.RegisterAdminRoutes(admin, versionHandler)
	if deps.Checker != nil {
		apiconsistency.RegisterRoutes(admin, apiconsistency.NewHandler(deps.Checker))
	}
	admin.GET("/version", srv.handleVersion)

	if deps.K8sClient != nil && deps.APIKeysSecret != "" {
		apiKeyHandler := apikey.NewHandler(deps.K8sClient, deps.Namespace, deps.APIKeysSecret, func(keys []config.APIKey) {
			srv.UpdateAPIKeys(config.MergeAPIKeys(srv.GetAPIKeys(), keys))
		})
		apikey.RegisterRoutes(admin, apiKeyHandler)
	}

	// Image bytes are served through the offline worker when it is running
	if deps.Worker != nil {
		e.Any("/images/*", echo.WrapHandler(worker.NewHandler(deps.Worker, deps.WorkerOrigin)))
	}

	// Health check (no auth required - for load balancers/probes)
	// Supports ?info=true to return the public URL, instance ID and worker state
	e.GET("/health", srv.handleHealth)

	return srv
}

// keyAuth applies API key auth with the keys current at request time
func (s *Server) keyAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		return middleware.APIKeyMiddleware(s.GetAPIKeys())(next)(c)
	}
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c echo.Context) error {
	if c.QueryParam("info") == "true" {
		info := map[string]string{
			"public_url":    s.publicURL,
			"instance_id":   s.instanceID,
			"cache_version": s.deps.Coordinator.Version(),
			"worker":        "disabled",
		}
		if s.deps.Worker != nil {
			info["worker"] = s.deps.Worker.State().String()
		}
		return c.JSON(http.StatusOK, info)
	}
	return c.NoContent(http.StatusOK)
}

// handleVersion returns build information
func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, s.versionInfo)
}

// Start starts the API server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logging.Logger.Info("Starting server", zap.String("addr", addr))
	return s.echo.Start(addr)
}
