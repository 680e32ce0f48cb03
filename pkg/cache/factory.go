package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

// NewStore creates the store for the persistent local layer.
// A non-empty filePath selects the file-backed cache; an in-memory cache is
// used otherwise, and as a fallback when the file cache cannot be created.
func NewStore(filePath string, saveInterval time.Duration) Cache {
	if filePath != "" {
		fileCache, err := NewFileCache(filePath, saveInterval)
		if err != nil {
			logging.Logger.Warn("Failed to create file-based image cache, falling back to memory cache",
				zap.String("path", filePath),
				zap.Error(err))
			return NewMemoryCache()
		}
		logging.Logger.Info("Initialized file-based image cache",
			zap.String("path", filePath))
		return fileCache
	}

	logging.Logger.Info("Initialized in-memory image cache")
	return NewMemoryCache()
}
