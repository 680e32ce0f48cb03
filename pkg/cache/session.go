package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/network"
)

const (
	// SlowNetworkTTL is how long a session record is trusted on slow-2g, 2g and 3g
	SlowNetworkTTL = 15 * time.Minute
	// DefaultTTL is how long a session record is trusted on faster connections
	DefaultTTL = 5 * time.Minute
)

// SessionTTL returns the record lifetime for the given conditions
func SessionTTL(info network.Info) time.Duration {
	if info.IsSlow() {
		return SlowNetworkTTL
	}
	return DefaultTTL
}

// SessionCache is the short-lived per-session key to record cache.
// Expiry is judged at read time against the current network conditions, and
// expired records are left in place to be overwritten by the next resolution.
type SessionCache struct {
	store   Cache
	network network.Provider
	now     func() time.Time
}

// SessionOption configures a SessionCache
type SessionOption func(*SessionCache)

// WithClock overrides the time source
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionCache) {
		s.now = now
	}
}

// NewSessionCache creates a session cache over store
func NewSessionCache(store Cache, provider network.Provider, opts ...SessionOption) *SessionCache {
	s := &SessionCache{
		store:   store,
		network: provider,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the record for key, or false when offline, missing, malformed
// or older than the TTL for the current conditions
func (s *SessionCache) Get(ctx context.Context, key string) (*Record, bool) {
	info := network.InfoFrom(ctx, s.network)
	if !info.Online {
		return nil, false
	}

	var record Record
	if err := s.store.Get(ctx, key, &record); err != nil {
		if !errors.Is(err, ErrCacheNotFound) && !errors.Is(err, ErrCacheExpired) {
			logging.Logger.Debug("Discarding unreadable session cache entry",
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}
	if !record.IsValid() {
		return nil, false
	}

	if record.Age(s.now()) > SessionTTL(info) {
		return nil, false
	}
	return &record, true
}

// Set stores record under key. It is skipped while offline, and write
// failures are logged and otherwise ignored.
func (s *SessionCache) Set(ctx context.Context, key string, record *Record) {
	info := network.InfoFrom(ctx, s.network)
	if !info.Online || record == nil {
		return
	}

	stored := *record
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}
	if stored.LastUpdated == "" {
		stored.LastUpdated = stored.Timestamp.Format(time.RFC1123)
	}
	if stored.NetworkType == network.TypeUnknown {
		stored.NetworkType = info.EffectiveType
	}

	if err := s.store.Set(ctx, key, &stored, 0); err != nil {
		logging.Logger.Warn("Session cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Delete removes key
func (s *SessionCache) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// DeletePrefix removes every key starting with prefix
func (s *SessionCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return s.store.DeletePrefix(ctx, prefix)
}

// Clear removes every record
func (s *SessionCache) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}

const (
	// DefaultMaxSessions bounds how many session caches are kept at once
	DefaultMaxSessions = 10000
	// DefaultSessionIdle is how long an unused session cache is kept
	DefaultSessionIdle = 30 * time.Minute
)

// SessionLimits bounds the session registry. Zero values take the defaults.
type SessionLimits struct {
	MaxSessions int
	Idle        time.Duration
}

// Sessions hands out one SessionCache per session. A session is dropped when
// it ends, when it has been idle for the configured time, or when the
// registry is full and it is the least recently used.
type Sessions struct {
	mu      sync.Mutex
	lru     *expirable.LRU[string, *sessionSlot]
	network network.Provider
	opts    []SessionOption
}

type sessionSlot struct {
	cache *SessionCache
	store *MemoryCache
}

// NewSessions creates an empty session registry with the default limits
func NewSessions(provider network.Provider, opts ...SessionOption) *Sessions {
	return NewSessionsWithLimits(provider, SessionLimits{}, opts...)
}

// NewSessionsWithLimits creates an empty session registry bounded by limits
func NewSessionsWithLimits(provider network.Provider, limits SessionLimits, opts ...SessionOption) *Sessions {
	if limits.MaxSessions <= 0 {
		limits.MaxSessions = DefaultMaxSessions
	}
	if limits.Idle <= 0 {
		limits.Idle = DefaultSessionIdle
	}
	onEvict := func(_ string, slot *sessionSlot) {
		_ = slot.store.Close()
	}
	return &Sessions{
		lru:     expirable.NewLRU[string, *sessionSlot](limits.MaxSessions, onEvict, limits.Idle),
		network: provider,
		opts:    opts,
	}
}

// Get returns the cache for id, creating it on first use. Each call renews
// the session's idle timer.
func (s *Sessions) Get(id string) *SessionCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.lru.Get(id); ok {
		s.lru.Add(id, slot)
		return slot.cache
	}
	// Session records are judged by age at read time, so the store needs no janitor
	store := newMemoryCache(0)
	slot := &sessionSlot{
		cache: NewSessionCache(store, s.network, s.opts...),
		store: store,
	}
	s.lru.Add(id, slot)
	return slot.cache
}

// End discards the cache for id
func (s *Sessions) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(id)
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	return s.lru.Len()
}

// Each calls fn for every live session cache
func (s *Sessions) Each(fn func(id string, c *SessionCache)) {
	s.mu.Lock()
	ids := s.lru.Keys()
	slots := make([]*sessionSlot, 0, len(ids))
	for _, id := range ids {
		slot, _ := s.lru.Peek(id)
		slots = append(slots, slot)
	}
	s.mu.Unlock()

	for i, slot := range slots {
		if slot != nil {
			fn(ids[i], slot.cache)
		}
	}
}

// ClearAll empties every live session cache
func (s *Sessions) ClearAll(ctx context.Context) {
	s.Each(func(id string, c *SessionCache) {
		if err := c.Clear(ctx); err != nil {
			logging.Logger.Warn("Failed to clear session cache",
				zap.String("session", id),
				zap.Error(err))
		}
	})
}

// DefaultSessionID is used when a context carries no session
const DefaultSessionID = "default"

type sessionKey struct{}

// WithSessionID attaches a session ID to ctx
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFrom returns the session ID carried by ctx, or DefaultSessionID
func SessionIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultSessionID
}
