package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Version store backends
const (
	VersionBackendConfigMap = "configmap"
	VersionBackendSQL       = "sql"
	VersionBackendMemory    = "memory"
)

// Config is the service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Worker     WorkerConfig     `yaml:"worker"`
	Version    VersionConfig    `yaml:"version"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	APIKeys    []APIKey         `yaml:"api_keys" validate:"dive"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	PublicURL string `yaml:"public_url" validate:"omitempty,url"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// StorageConfig configures the MinIO/S3 object store
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint" validate:"required"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Region        string `yaml:"region"`
	UseSSL        bool   `yaml:"use_ssl"`
	Bucket        string `yaml:"bucket" validate:"required"`
	PublicBaseURL string `yaml:"public_base_url" validate:"omitempty,url"`
	EnsureBucket  bool   `yaml:"ensure_bucket"`
}

// DatabaseConfig configures the image records database
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// CacheConfig configures the cache layers
type CacheConfig struct {
	// FilePath enables the persistent local layer
	FilePath           string        `yaml:"file_path"`
	SaveInterval       time.Duration `yaml:"save_interval"`
	QuerySize          int           `yaml:"query_size" validate:"min=1"`
	QueryMaxTTL        time.Duration `yaml:"query_max_ttl"`
	FallbackURL        string        `yaml:"fallback_url"`
	ConsistencyWorkers int           `yaml:"consistency_workers" validate:"min=1"`
	// MaxSessions and SessionIdle bound the per-session caches
	MaxSessions        int           `yaml:"max_sessions" validate:"min=1"`
	SessionIdle        time.Duration `yaml:"session_idle"`
}

// WorkerConfig configures the offline worker
type WorkerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Warm             bool          `yaml:"warm"`
	PlaceholderAsset string        `yaml:"placeholder_asset"`
	LoadingAsset     string        `yaml:"loading_asset"`
	MessageTimeout   time.Duration `yaml:"message_timeout"`
}

// VersionConfig configures where the global cache version lives
type VersionConfig struct {
	Backend      string        `yaml:"backend" validate:"oneof=configmap sql memory"`
	ConfigMap    string        `yaml:"configmap"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// KubernetesConfig configures the Kubernetes client
type KubernetesConfig struct {
	InCluster  bool   `yaml:"in_cluster"`
	Kubeconfig string `yaml:"kubeconfig"`
	Namespace  string `yaml:"namespace"`
	// APIKeysSecret optionally holds additional API keys
	APIKeysSecret string `yaml:"api_keys_secret"`
}

// Default returns a configuration suitable for local development
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{Endpoint: "localhost:9000", Bucket: "images", Region: "us-east-1"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "imagecache.db",
		},
		Cache: CacheConfig{
			SaveInterval:       time.Minute,
			QuerySize:          1024,
			QueryMaxTTL:        24 * time.Hour,
			FallbackURL:        "/images/placeholder.svg",
			ConsistencyWorkers: 8,
			MaxSessions:        10000,
			SessionIdle:        30 * time.Minute,
		},
		Worker: WorkerConfig{
			Enabled:          true,
			PlaceholderAsset: "/images/placeholder.svg",
			LoadingAsset:     "/images/loading.svg",
			MessageTimeout:   3 * time.Second,
		},
		Version: VersionConfig{
			Backend:      VersionBackendSQL,
			ConfigMap:    "imagecache-state",
			PollInterval: 30 * time.Second,
		},
		Kubernetes: KubernetesConfig{Namespace: "imagecache"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"IMAGECACHE_LOG_LEVEL":          &c.Logging.Level,
		"IMAGECACHE_LOG_FORMAT":         &c.Logging.Format,
		"IMAGECACHE_PUBLIC_URL":         &c.Server.PublicURL,
		"IMAGECACHE_STORAGE_ENDPOINT":   &c.Storage.Endpoint,
		"IMAGECACHE_STORAGE_ACCESS_KEY": &c.Storage.AccessKey,
		"IMAGECACHE_STORAGE_SECRET_KEY": &c.Storage.SecretKey,
		"IMAGECACHE_STORAGE_BUCKET":     &c.Storage.Bucket,
		"IMAGECACHE_PUBLIC_BASE_URL":    &c.Storage.PublicBaseURL,
		"IMAGECACHE_DATABASE_DRIVER":    &c.Database.Driver,
		"IMAGECACHE_DATABASE_DSN":       &c.Database.DSN,
		"IMAGECACHE_CACHE_FILE":         &c.Cache.FilePath,
		"IMAGECACHE_VERSION_BACKEND":    &c.Version.Backend,
		"POD_NAMESPACE":                 &c.Kubernetes.Namespace,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("IMAGECACHE_STORAGE_USE_SSL"); ok && v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid IMAGECACHE_STORAGE_USE_SSL %q: %w", v, err)
		}
		c.Storage.UseSSL = useSSL
	}
	return nil
}
