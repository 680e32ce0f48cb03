package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrCacheNotFound = errors.New("cache entry not found")
	ErrCacheExpired  = errors.New("cache entry expired")
)

// cacheEntry represents a single cache entry with expiration
type cacheEntry struct {
	value     []byte // JSON-encoded value
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func newEntry(value interface{}, ttl time.Duration) (*cacheEntry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	entry := &cacheEntry{value: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry, nil
}

// MemoryCache is an in-memory implementation of the Cache interface
type MemoryCache struct {
	data map[string]*cacheEntry
	mu   sync.RWMutex
	stop chan struct{}
	once sync.Once
}

// NewMemoryCache creates a new in-memory cache with background cleanup
func NewMemoryCache() *MemoryCache {
	return newMemoryCache(5 * time.Minute)
}

func newMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	cache := &MemoryCache{
		data: make(map[string]*cacheEntry),
		stop: make(chan struct{}),
	}

	// A zero interval leaves expired entries to be dropped on read
	if cleanupInterval > 0 {
		go cache.cleanup(cleanupInterval)
	}

	return cache
}

// Set stores a value in the cache with the specified TTL
func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	entry, err := newEntry(value, ttl)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry

	return nil
}

// Get retrieves a value from the cache and unmarshals it into dest
func (m *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return ErrCacheNotFound
	}

	if entry.expired(time.Now()) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return ErrCacheExpired
	}

	return json.Unmarshal(entry.value, dest)
}

// Delete removes a single key. Missing keys are not an error.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed
func (m *MemoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			removed++
		}
	}
	return removed, nil
}

// Clear removes every entry
func (m *MemoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*cacheEntry)
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close stops the background cleanup
func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// cleanup runs periodically to remove expired entries
func (m *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

func (m *MemoryCache) removeExpired() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	cleaned := 0
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
			cleaned++
		}
	}
	return cleaned
}
