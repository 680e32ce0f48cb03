package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

const fileCacheFormatVersion = "1.0"

// FileCache is the persistent local layer: an in-memory cache whose entries
// survive restarts by being saved to a JSON file
type FileCache struct {
	*MemoryCache
	filePath string
	saveMu   sync.Mutex
	stopSave chan struct{}
	once     sync.Once
}

type fileCacheData struct {
	Entries map[string]*fileCacheEntry `json:"entries"`
	Version string                     `json:"version"`
}

type fileCacheEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NewFileCache creates a new file-based cache with persistence. saveInterval
// controls how often the cache is flushed; zero disables periodic saves.
func NewFileCache(filePath string, saveInterval time.Duration) (*FileCache, error) {
	fc := &FileCache{
		MemoryCache: NewMemoryCache(),
		filePath:    filePath,
		stopSave:    make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := fc.load(); err != nil {
		logging.Logger.Warn("Failed to load cache from file, starting with empty cache",
			zap.String("file", filePath),
			zap.Error(err))
	}

	if saveInterval > 0 {
		go fc.periodicSave(saveInterval)
	}

	return fc, nil
}

// Path returns the backing file path
func (fc *FileCache) Path() string {
	return fc.filePath
}

// Clear removes every entry and persists the empty cache immediately so a
// restart does not resurrect invalidated data
func (fc *FileCache) Clear(ctx context.Context) error {
	if err := fc.MemoryCache.Clear(ctx); err != nil {
		return err
	}
	return fc.Save()
}

// periodicSave saves the cache to disk on every tick
func (fc *FileCache) periodicSave(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fc.stopSave:
			return
		case <-ticker.C:
			if err := fc.Save(); err != nil {
				logging.Logger.Warn("Failed to save cache to file",
					zap.String("file", fc.filePath),
					zap.Error(err))
			}
		}
	}
}

// ErrFormatMismatch is returned when the cache file was written in another format
var ErrFormatMismatch = errors.New("cache file format mismatch")

func (fc *FileCache) load() error {
	raw, err := os.ReadFile(fc.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snapshot fileCacheData
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal cache file: %w", err)
	}
	if snapshot.Version != fileCacheFormatVersion {
		return fmt.Errorf("%w: got %q", ErrFormatMismatch, snapshot.Version)
	}

	loaded, expired := fc.restore(snapshot.Entries, time.Now())
	logging.Logger.Info("Cache loaded from disk",
		zap.String("file", fc.filePath),
		zap.Int("loaded", loaded),
		zap.Int("expired", expired))
	return nil
}

// restore copies live entries into memory and reports how many were kept
// and how many had already expired
func (fc *FileCache) restore(entries map[string]*fileCacheEntry, now time.Time) (loaded, expired int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for key, stored := range entries {
		e := &cacheEntry{value: stored.Value, expiresAt: stored.ExpiresAt}
		if e.expired(now) {
			expired++
			continue
		}
		fc.data[key] = e
		loaded++
	}
	return loaded, expired
}

func (fc *FileCache) snapshot(now time.Time) fileCacheData {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	out := fileCacheData{
		Version: fileCacheFormatVersion,
		Entries: make(map[string]*fileCacheEntry, len(fc.data)),
	}
	for key, e := range fc.data {
		if !e.expired(now) {
			out.Entries[key] = &fileCacheEntry{Value: e.value, ExpiresAt: e.expiresAt}
		}
	}
	return out
}

// Save writes the live entries to disk. The file is replaced by rename so a
// crash mid-write leaves the previous snapshot intact.
func (fc *FileCache) Save() error {
	fc.saveMu.Lock()
	defer fc.saveMu.Unlock()

	snapshot := fc.snapshot(time.Now())
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	tmp := fc.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, fc.filePath); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	logging.Logger.Debug("Cache saved to disk",
		zap.String("file", fc.filePath),
		zap.Int("entries", len(snapshot.Entries)))
	return nil
}

// Close saves the cache one final time before shutting down
func (fc *FileCache) Close() error {
	fc.once.Do(func() { close(fc.stopSave) })
	_ = fc.MemoryCache.Close()
	return fc.Save()
}
