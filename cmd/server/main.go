package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"runtime"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	internalMiddleware "github.com/lissto-dev/imagecache/internal/middleware"
	"github.com/lissto-dev/imagecache/internal/server"
	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/config"
	"github.com/lissto-dev/imagecache/pkg/consistency"
	"github.com/lissto-dev/imagecache/pkg/coordinator"
	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/k8s"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/network"
	"github.com/lissto-dev/imagecache/pkg/placeholder"
	"github.com/lissto-dev/imagecache/pkg/records"
	"github.com/lissto-dev/imagecache/pkg/remote"
	pkgServer "github.com/lissto-dev/imagecache/pkg/server"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
	"github.com/lissto-dev/imagecache/pkg/version"
	"github.com/lissto-dev/imagecache/pkg/worker"
)

// Set at build time via -ldflags
var (
	buildVersion = "dev"
	buildTime    = "unknown"
)

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the struct
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func main() {
	// Parse flags
	var configPath string
	var kubeconfig string
	var inCluster bool

	flag.StringVar(&configPath, "config-path", "config.local.yaml", "Path to configuration file")
	flag.StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig file (optional for out-of-cluster)")
	flag.BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes configuration")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s", configPath)
	if inCluster {
		cfg.Kubernetes.InCluster = true
	}
	if kubeconfig != "" {
		cfg.Kubernetes.Kubeconfig = kubeconfig
	}

	// Initialize structured logging
	if err := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.Logger.Info("Structured logging initialized",
		zap.String("level", cfg.Logging.Level),
		zap.String("format", cfg.Logging.Format))

	ctx := context.Background()

	// Kubernetes is only needed for ConfigMap-backed state or secret-held API keys
	var k8sClient *k8s.Client
	if cfg.Version.Backend == config.VersionBackendConfigMap || cfg.Kubernetes.APIKeysSecret != "" {
		k8sClient, err = k8s.NewClient(cfg.Kubernetes.InCluster, cfg.Kubernetes.Kubeconfig)
		if err != nil {
			logging.Logger.Fatal("Failed to create Kubernetes client", zap.Error(err))
		}
		logging.Logger.Info("Kubernetes client initialized")
	}

	// Image records database
	db, err := records.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logging.Logger.Fatal("Failed to open records database",
			zap.String("driver", cfg.Database.Driver),
			zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	repo := records.NewSQLRepository(db)
	logging.Logger.Info("Records database ready", zap.String("driver", cfg.Database.Driver))

	// Shared state: cache version and instance ID
	var backend version.Backend
	switch cfg.Version.Backend {
	case config.VersionBackendConfigMap:
		backend = version.NewConfigMapBackend(k8sClient, cfg.Kubernetes.Namespace, cfg.Version.ConfigMap)
	case config.VersionBackendSQL:
		backend = version.NewSQLBackend(repo)
	default:
		backend = version.NewMemoryBackend()
	}
	logging.Logger.Info("Version store initialized", zap.String("backend", cfg.Version.Backend))

	instanceID, err := pkgServer.GetOrCreateInstanceID(ctx, backend)
	if err != nil {
		logging.Logger.Fatal("Failed to get or create instance ID", zap.Error(err))
	}
	logging.Logger.Info("Instance ID initialized", zap.String("id", instanceID))

	// Object storage
	normalizer := storagepath.New(cfg.Storage.Bucket)
	store, err := remote.NewMinioStore(remote.MinioConfig{
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		Region:        cfg.Storage.Region,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	}, normalizer)
	if err != nil {
		logging.Logger.Fatal("Failed to create object store client", zap.Error(err))
	}
	if cfg.Storage.EnsureBucket {
		if err := remote.EnsureBucket(ctx, store, cfg.Storage.Bucket); err != nil {
			logging.Logger.Fatal("Failed to ensure bucket",
				zap.String("bucket", cfg.Storage.Bucket),
				zap.Error(err))
		}
	}

	// Cache layers
	monitor := network.NewMonitor(network.Online(network.TypeUnknown))
	sessions := cache.NewSessionsWithLimits(monitor, cache.SessionLimits{
		MaxSessions: cfg.Cache.MaxSessions,
		Idle:        cfg.Cache.SessionIdle,
	})
	local := cache.NewStore(cfg.Cache.FilePath, cfg.Cache.SaveInterval)
	defer func() { _ = local.Close() }()

	layers := []coordinator.Layer{
		coordinator.NewSessionLayer(sessions),
		coordinator.NewLocalLayer(local),
	}

	versions := version.NewStore(backend)
	initialVersion, err := versions.Get(ctx)
	if err != nil {
		logging.Logger.Fatal("Failed to read cache version", zap.Error(err))
	}

	var workerClient *worker.Client
	if cfg.Worker.Enabled {
		workerClient, err = worker.Register(ctx, worker.Config{
			Origin:           store.BaseURL(),
			Version:          initialVersion,
			PlaceholderAsset: cfg.Worker.PlaceholderAsset,
			LoadingAsset:     cfg.Worker.LoadingAsset,
			MessageTimeout:   cfg.Worker.MessageTimeout,
		}, http.DefaultTransport)
		if err != nil {
			logging.Logger.Warn("Offline worker unavailable, continuing without it", zap.Error(err))
		} else {
			layers = append(layers, coordinator.NewWorkerLayer(workerClient, cfg.Worker.Warm))
			logging.Logger.Info("Offline worker active", zap.String("cache", workerClient.CacheName()))
		}
	}

	coord, err := coordinator.New(coordinator.Config{
		Normalizer:   normalizer,
		Remote:       store,
		Network:      monitor,
		Bus:          events.NewBus(),
		Placeholders: placeholder.NewStrategy(repo),
		Catalog:      repo,
		Versions:     versions,
		FallbackURL:  cfg.Cache.FallbackURL,
		Layers:       layers,
	})
	if err != nil {
		logging.Logger.Fatal("Failed to create coordinator", zap.Error(err))
	}
	coord.RegisterQueryCache(coordinator.NewQueryLayer(cfg.Cache.QuerySize, cfg.Cache.QueryMaxTTL))
	if err := coord.LoadVersion(ctx); err != nil {
		logging.Logger.Fatal("Failed to load cache version", zap.Error(err))
	}
	go coord.WatchVersion(ctx, cfg.Version.PollInterval)

	checker := consistency.NewChecker(repo, normalizer, coord, cfg.Cache.ConsistencyWorkers)

	// API keys: config file first, then the optional secret
	apiKeys := cfg.APIKeys
	if cfg.Kubernetes.APIKeysSecret != "" {
		secretKeys, err := config.LoadAPIKeysFromSecret(ctx, k8sClient, cfg.Kubernetes.Namespace, cfg.Kubernetes.APIKeysSecret)
		if err != nil {
			logging.Logger.Fatal("Failed to load API keys from secret",
				zap.String("namespace", cfg.Kubernetes.Namespace),
				zap.Error(err))
		}
		apiKeys = config.MergeAPIKeys(apiKeys, secretKeys)
	}
	if len(apiKeys) == 0 {
		logging.Logger.Warn("No API keys configured, admin endpoints are unreachable")
	}
	logging.Logger.Info("API keys loaded", zap.Int("count", len(apiKeys)))

	if cfg.Server.PublicURL == "" {
		logging.Logger.Info("No public URL configured")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(internalMiddleware.LoggerMiddleware())
	e.Use(internalMiddleware.RecoverMiddleware())
	e.Use(internalMiddleware.CORSMiddleware())
	e.Use(internalMiddleware.APIIDMiddleware(instanceID))

	srv := server.New(e, apiKeys, server.Deps{
		Coordinator:   coord,
		Sessions:      sessions,
		Checker:       checker,
		Worker:        workerClient,
		WorkerOrigin:  store.BaseURL(),
		K8sClient:     k8sClient,
		Namespace:     cfg.Kubernetes.Namespace,
		APIKeysSecret: cfg.Kubernetes.APIKeysSecret,
	}, instanceID, cfg.Server.PublicURL, &server.VersionInfo{
		Version:   buildVersion,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	})
	logging.Logger.Info("Server initialized")

	if err := srv.Start(cfg.Server.Port); err != nil {
		logging.Logger.Fatal("Server error", zap.Error(err))
	}
}
