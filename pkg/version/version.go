// Package version persists the global cache version shared by every replica
// and by the offline worker. Bumping it invalidates all cached records.
package version

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/k8s"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/records"
)

const (
	// DefaultVersion is used until a version has been stored
	DefaultVersion = "v1"

	cacheVersionKey = "cache-version"
)

// ErrInvalidVersion is returned for blank versions
var ErrInvalidVersion = errors.New("invalid cache version")

// Backend is a small named value store
type Backend interface {
	Value(ctx context.Context, name string) (string, error)
	SetValue(ctx context.Context, name, value string) error
}

// Store reads and writes the global cache version
type Store struct {
	backend Backend
}

// NewStore creates a Store over a backend
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the stored version, or DefaultVersion when none is stored
func (s *Store) Get(ctx context.Context) (string, error) {
	v, err := s.backend.Value(ctx, cacheVersionKey)
	if err != nil {
		return "", fmt.Errorf("failed to read cache version: %w", err)
	}
	if v == "" {
		return DefaultVersion, nil
	}
	return v, nil
}

// Set stores a new version
func (s *Store) Set(ctx context.Context, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return ErrInvalidVersion
	}
	if err := s.backend.SetValue(ctx, cacheVersionKey, v); err != nil {
		return fmt.Errorf("failed to write cache version: %w", err)
	}
	logging.Logger.Info("Cache version stored", zap.String("version", v))
	return nil
}

// ConfigMapBackend keeps values in a single ConfigMap
type ConfigMapBackend struct {
	client    *k8s.Client
	namespace string
	name      string
}

// NewConfigMapBackend creates a backend over namespace/name
func NewConfigMapBackend(client *k8s.Client, namespace, name string) *ConfigMapBackend {
	return &ConfigMapBackend{client: client, namespace: namespace, name: name}
}

func (b *ConfigMapBackend) Value(ctx context.Context, name string) (string, error) {
	return b.client.ConfigMapValue(ctx, b.namespace, b.name, name)
}

func (b *ConfigMapBackend) SetValue(ctx context.Context, name, value string) error {
	return b.client.SetConfigMapValue(ctx, b.namespace, b.name, name, value)
}

// SQLBackend keeps values in the records database
type SQLBackend struct {
	repo *records.SQLRepository
}

// NewSQLBackend creates a backend over the cache_settings table
func NewSQLBackend(repo *records.SQLRepository) *SQLBackend {
	return &SQLBackend{repo: repo}
}

func (b *SQLBackend) Value(ctx context.Context, name string) (string, error) {
	return b.repo.Setting(ctx, name)
}

func (b *SQLBackend) SetValue(ctx context.Context, name, value string) error {
	return b.repo.SetSetting(ctx, name, value)
}

// MemoryBackend keeps values in process. Used when neither Kubernetes nor a
// database is configured.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates an empty in-process backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (b *MemoryBackend) Value(_ context.Context, name string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.values[name], nil
}

func (b *MemoryBackend) SetValue(_ context.Context, name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = value
	return nil
}
