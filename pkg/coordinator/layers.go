package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/logging"
)

// ErrWorkerUnavailable is returned when the worker does not acknowledge a message
var ErrWorkerUnavailable = errors.New("offline worker unavailable")

// Layer is one cache tier managed by the coordinator
type Layer interface {
	Kind() LayerKind
	Get(ctx context.Context, key string) (*cache.Record, bool)
	Set(ctx context.Context, key string, rec *cache.Record, ttl time.Duration) error
	// Invalidate drops key and all of its size variants
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

func variantPrefix(key string) string {
	return key + "@"
}

// SessionLayer serves the session cache of the session carried by ctx
type SessionLayer struct {
	sessions *cache.Sessions
}

// NewSessionLayer creates a memory layer over a session registry
func NewSessionLayer(sessions *cache.Sessions) *SessionLayer {
	return &SessionLayer{sessions: sessions}
}

func (l *SessionLayer) Kind() LayerKind { return LayerMemory }

func (l *SessionLayer) Get(ctx context.Context, key string) (*cache.Record, bool) {
	return l.sessions.Get(cache.SessionIDFrom(ctx)).Get(ctx, key)
}

func (l *SessionLayer) Set(ctx context.Context, key string, rec *cache.Record, _ time.Duration) error {
	l.sessions.Get(cache.SessionIDFrom(ctx)).Set(ctx, key, rec)
	return nil
}

func (l *SessionLayer) Invalidate(ctx context.Context, key string) error {
	var errs []error
	l.sessions.Each(func(_ string, c *cache.SessionCache) {
		if err := c.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
		if _, err := c.DeletePrefix(ctx, variantPrefix(key)); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (l *SessionLayer) Clear(ctx context.Context) error {
	l.sessions.ClearAll(ctx)
	return nil
}

// LocalLayer stores records in a persistent cache.Cache
type LocalLayer struct {
	store cache.Cache
}

// NewLocalLayer creates a local layer over store
func NewLocalLayer(store cache.Cache) *LocalLayer {
	return &LocalLayer{store: store}
}

func (l *LocalLayer) Kind() LayerKind { return LayerLocal }

func (l *LocalLayer) Get(ctx context.Context, key string) (*cache.Record, bool) {
	var rec cache.Record
	if err := l.store.Get(ctx, key, &rec); err != nil {
		return nil, false
	}
	if !rec.IsValid() {
		return nil, false
	}
	return &rec, true
}

func (l *LocalLayer) Set(ctx context.Context, key string, rec *cache.Record, ttl time.Duration) error {
	return l.store.Set(ctx, key, rec, ttl)
}

func (l *LocalLayer) Invalidate(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return err
	}
	_, err := l.store.DeletePrefix(ctx, variantPrefix(key))
	return err
}

func (l *LocalLayer) Clear(ctx context.Context) error {
	return l.store.Clear(ctx)
}

type queryEntry struct {
	record  cache.Record
	expires time.Time
}

// QueryLayer is the bounded URL-resolution cache shared by all sessions
type QueryLayer struct {
	lru *expirable.LRU[string, queryEntry]
	now func() time.Time
}

// NewQueryLayer creates a query layer holding at most size records, none
// kept longer than maxTTL
func NewQueryLayer(size int, maxTTL time.Duration) *QueryLayer {
	return &QueryLayer{
		lru: expirable.NewLRU[string, queryEntry](size, nil, maxTTL),
		now: time.Now,
	}
}

func (l *QueryLayer) Kind() LayerKind { return LayerQuery }

func (l *QueryLayer) Get(_ context.Context, key string) (*cache.Record, bool) {
	e, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	if l.now().After(e.expires) {
		l.lru.Remove(key)
		return nil, false
	}
	rec := e.record
	return &rec, true
}

func (l *QueryLayer) Set(_ context.Context, key string, rec *cache.Record, ttl time.Duration) error {
	if rec == nil {
		return nil
	}
	l.lru.Add(key, queryEntry{record: *rec, expires: l.now().Add(ttl)})
	return nil
}

func (l *QueryLayer) Invalidate(_ context.Context, key string) error {
	l.lru.Remove(key)
	l.removeWhere(func(k string) bool { return strings.HasPrefix(k, variantPrefix(key)) })
	return nil
}

func (l *QueryLayer) Clear(context.Context) error {
	l.lru.Purge()
	return nil
}

// Len returns the number of cached resolutions
func (l *QueryLayer) Len() int {
	return l.lru.Len()
}

func (l *QueryLayer) removeWhere(match func(key string) bool) {
	for _, k := range l.lru.Keys() {
		if match(k) {
			l.lru.Remove(k)
		}
	}
}

// Handle applies a cache event to the layer
func (l *QueryLayer) Handle(e events.Event) {
	if e.Type == events.TypeUpdate && e.Scope != events.ScopeGlobal {
		return
	}
	if e.Untargeted() {
		l.lru.Purge()
		return
	}
	l.removeWhere(func(k string) bool {
		base, _, _ := strings.Cut(k, "@")
		return events.Matches(base, e)
	})
}

// WorkerCache is the page-side view of the offline worker
type WorkerCache interface {
	RoundTrip(req *http.Request) (*http.Response, error)
	Invalidate()
	ClearCache(ctx context.Context, url string) bool
	UpdateCacheVersion(ctx context.Context, version string) bool
}

// WorkerLayer forwards invalidation to the offline worker. The worker keys its
// cache by URL, so lookups by image key always miss; writes warm the worker
// with the resolved URL.
type WorkerLayer struct {
	client WorkerCache
	warm   bool

	mu   sync.Mutex
	urls map[string]map[string]struct{}
}

// NewWorkerLayer creates a worker layer. With warm set, newly resolved URLs
// are fetched through the worker in the background.
func NewWorkerLayer(client WorkerCache, warm bool) *WorkerLayer {
	return &WorkerLayer{
		client: client,
		warm:   warm,
		urls:   make(map[string]map[string]struct{}),
	}
}

func (l *WorkerLayer) Kind() LayerKind { return LayerWorker }

func (l *WorkerLayer) Get(context.Context, string) (*cache.Record, bool) {
	return nil, false
}

func (l *WorkerLayer) Set(_ context.Context, key string, rec *cache.Record, _ time.Duration) error {
	if rec == nil || rec.URL == "" {
		return nil
	}
	base, _, _ := strings.Cut(key, "@")

	l.mu.Lock()
	seen, ok := l.urls[base]
	if !ok {
		seen = make(map[string]struct{})
		l.urls[base] = seen
	}
	_, known := seen[rec.URL]
	seen[rec.URL] = struct{}{}
	l.mu.Unlock()

	if l.warm && !known {
		go l.prefetch(rec.URL)
	}
	return nil
}

func (l *WorkerLayer) prefetch(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := l.client.RoundTrip(req)
	if err != nil {
		logging.Logger.Debug("Worker prefetch failed", zap.String("url", url), zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (l *WorkerLayer) Invalidate(ctx context.Context, key string) error {
	l.mu.Lock()
	seen := l.urls[key]
	delete(l.urls, key)
	l.mu.Unlock()

	var failed int
	for url := range seen {
		if !l.client.ClearCache(ctx, url) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d entries not cleared for %s", ErrWorkerUnavailable, failed, key)
	}
	return nil
}

func (l *WorkerLayer) Clear(context.Context) error {
	l.mu.Lock()
	l.urls = make(map[string]map[string]struct{})
	l.mu.Unlock()

	l.client.Invalidate()
	return nil
}

// UpdateVersion moves the worker to a new cache version
func (l *WorkerLayer) UpdateVersion(ctx context.Context, version string) error {
	l.mu.Lock()
	l.urls = make(map[string]map[string]struct{})
	l.mu.Unlock()

	if !l.client.UpdateCacheVersion(ctx, version) {
		return ErrWorkerUnavailable
	}
	return nil
}
