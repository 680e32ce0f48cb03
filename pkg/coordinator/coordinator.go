// Package coordinator is the single entry point for resolving an image key to
// a URL through the cache layers, and for invalidating them.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lissto-dev/imagecache/pkg/cache"
	"github.com/lissto-dev/imagecache/pkg/events"
	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/network"
	"github.com/lissto-dev/imagecache/pkg/placeholder"
	"github.com/lissto-dev/imagecache/pkg/records"
	"github.com/lissto-dev/imagecache/pkg/remote"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
	"github.com/lissto-dev/imagecache/pkg/version"
)

const (
	// DefaultFallbackURL is returned when a key cannot be resolved
	DefaultFallbackURL = "/images/placeholder.svg"

	resolveTimeout = 10 * time.Second
)

var (
	// ErrOffline is reported when no layer holds the key and the network is down
	ErrOffline = errors.New("offline and not cached")
	// ErrInvalidKey is reported for an empty image key
	ErrInvalidKey = errors.New("image key is required")
)

// Result sources besides the layer names
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Catalog looks up stored image metadata by key
type Catalog interface {
	GetByKey(ctx context.Context, key string) (*records.ImageRecord, error)
}

// Result is the outcome of resolving one image. Resolution failures never
// surface as Go errors; Err carries the cause and URL the fallback.
type Result struct {
	Key      string        `json:"key"`
	Size     string        `json:"size,omitempty"`
	URL      string        `json:"url"`
	Source   string        `json:"source"`
	Fallback bool          `json:"fallback"`
	Record   *cache.Record `json:"record,omitempty"`
	Options  CacheOptions  `json:"options"`
	Err      error         `json:"-"`
}

// Plan tells the UI how to present an image under the current conditions
type Plan struct {
	Delay                 time.Duration            `json:"delay"`
	LowerQuality          bool                     `json:"lower_quality"`
	PrioritizePlaceholder bool                     `json:"prioritize_placeholder"`
	Placeholders          placeholder.Placeholders `json:"placeholders"`
}

// Config wires a Coordinator
type Config struct {
	Normalizer   storagepath.Normalizer
	Remote       remote.Store
	Network      network.Provider
	Bus          *events.Bus
	Placeholders *placeholder.Strategy
	Catalog      Catalog
	Versions     *version.Store
	// FallbackURL is returned when resolution fails
	FallbackURL string
	Layers      []Layer
	// Clock defaults to time.Now
	Clock       func() time.Time
}

// Coordinator resolves image keys through the cache layers
type Coordinator struct {
	normalizer   storagepath.Normalizer
	remote       remote.Store
	network      network.Provider
	bus          *events.Bus
	placeholders *placeholder.Strategy
	catalog      Catalog
	versions     *version.Store
	fallbackURL  string
	now          func() time.Time

	mu         sync.RWMutex
	layers     map[LayerKind]Layer
	registered map[*QueryLayer]func()

	group       singleflight.Group
	version     atomic.Value
	writeErrors atomic.Int64

	// generation advances on every invalidation; resolutions started in an
	// older generation are returned but not written back
	writeMu    sync.RWMutex
	generation atomic.Uint64
}

// New creates a Coordinator
func New(cfg Config) (*Coordinator, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Network == nil {
		cfg.Network = network.Static(network.Online(network.Type4G))
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Coordinator{
		normalizer:   cfg.Normalizer,
		remote:       cfg.Remote,
		network:      cfg.Network,
		bus:          cfg.Bus,
		placeholders: cfg.Placeholders,
		catalog:      cfg.Catalog,
		versions:     cfg.Versions,
		fallbackURL:  cfg.FallbackURL,
		now:          cfg.Clock,
		layers:       make(map[LayerKind]Layer),
		registered:   make(map[*QueryLayer]func()),
	}
	c.version.Store(version.DefaultVersion)

	for _, l := range cfg.Layers {
		c.layers[l.Kind()] = l
	}
	return c, nil
}

// Bus returns the event bus invalidations are dispatched on
func (c *Coordinator) Bus() *events.Bus {
	return c.bus
}

// Version returns the global cache version records are checked against
func (c *Coordinator) Version() string {
	return c.version.Load().(string)
}

// WriteErrorCount returns how many layer writes have failed
func (c *Coordinator) WriteErrorCount() int64 {
	return c.writeErrors.Load()
}

func (c *Coordinator) layer(kind LayerKind) (Layer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.layers[kind]
	return l, ok
}

func (c *Coordinator) managed() []Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Layer, 0, len(c.layers))
	for _, kind := range allLayers {
		if l, ok := c.layers[kind]; ok {
			out = append(out, l)
		}
	}
	return out
}

// GetImageURL resolves key (and optional size variant) to a URL. Layers are
// consulted in policy order and the first fresh hit wins; a record is fresh
// while its age is within the TTL of the current conditions. On a full miss
// the URL is resolved once per cache key, however many callers are waiting,
// and written into every active layer.
func (c *Coordinator) GetImageURL(ctx context.Context, key, size string) Result {
	info := network.InfoFrom(ctx, c.network)
	opts := Options(info)
	res := Result{Key: key, Size: size, Options: opts}

	if key == "" {
		return c.fallback(res, ErrInvalidKey)
	}
	cacheKey := storagepath.CacheKey(key, size)

	for _, kind := range opts.Layers {
		l, ok := c.layer(kind)
		if !ok {
			continue
		}
		rec, hit := l.Get(ctx, cacheKey)
		if !hit || rec.CacheVersion != c.Version() || rec.Age(c.now()) > opts.TTL {
			continue
		}
		res.URL = rec.URL
		res.Source = kind.String()
		res.Record = rec
		return res
	}

	if !info.Online {
		return c.fallback(res, ErrOffline)
	}

	gen := c.generation.Load()
	flight := fmt.Sprintf("%s#%d", cacheKey, gen)
	v, err, _ := c.group.Do(flight, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return c.resolve(rctx, key, size, info)
	})
	if err != nil {
		logging.Logger.Warn("Image resolution failed",
			zap.String("key", key),
			zap.String("size", size),
			zap.Error(err))
		return c.fallback(res, err)
	}

	rec := *(v.(*cache.Record))
	c.writeBack(ctx, cacheKey, &rec, opts, gen)

	res.URL = rec.URL
	res.Source = SourceRemote
	res.Record = &rec
	return res
}

func (c *Coordinator) fallback(res Result, err error) Result {
	res.URL = c.fallbackURL
	res.Source = SourceFallback
	res.Fallback = true
	res.Err = err
	return res
}

func (c *Coordinator) resolve(ctx context.Context, key, size string, info network.Info) (*cache.Record, error) {
	path := storagepath.ObjectPath(key, size)
	rec := &cache.Record{
		CacheVersion: c.Version(),
		NetworkType:  info.EffectiveType,
	}

	if c.catalog != nil {
		entry, err := c.catalog.GetByKey(ctx, key)
		switch {
		case err == nil:
			path = storagepath.ObjectPath(entry.StoragePath, size)
			rec.AspectRatio = entry.AspectRatio
			rec.ContentHash = entry.ContentHash
		case errors.Is(err, records.ErrRecordNotFound):
		default:
			logging.Logger.Debug("Catalog lookup failed", zap.String("key", key), zap.Error(err))
		}
	}

	url, err := c.remote.PublicURL(ctx, c.normalizer.Normalize(path))
	if err != nil {
		return nil, err
	}
	rec.URL = url

	if c.placeholders != nil {
		p := c.placeholders.Fetch(ctx, key, placeholder.ShouldPrioritize(info))
		rec.TinyPlaceholder = p.Tiny
		rec.ColorPlaceholder = p.Color
	}

	rec.Timestamp = c.now()
	rec.LastUpdated = rec.Timestamp.Format(time.RFC1123)
	return rec, nil
}

// writeBack stores rec in every active layer unless an invalidation happened
// since gen. Records are kept for MaxTTL; freshness is judged at read time.
func (c *Coordinator) writeBack(ctx context.Context, cacheKey string, rec *cache.Record, opts CacheOptions, gen uint64) {
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()
	if c.generation.Load() != gen {
		logging.Logger.Debug("Skipping write-back of a resolution invalidated in flight",
			zap.String("key", cacheKey))
		return
	}

	for _, kind := range opts.Layers {
		l, ok := c.layer(kind)
		if !ok {
			continue
		}
		if err := l.Set(ctx, cacheKey, rec, MaxTTL); err != nil {
			c.writeErrors.Add(1)
			logging.Logger.Warn("Cache layer write failed",
				zap.String("layer", kind.String()),
				zap.String("key", cacheKey),
				zap.Error(err))
		}
	}
}

// advance starts a new generation. Write-backs in progress finish first so
// the purge that follows removes them.
func (c *Coordinator) advance() {
	c.writeMu.Lock()
	c.generation.Add(1)
	c.writeMu.Unlock()
}

// InvalidateImage purges key from every managed layer and announces it
func (c *Coordinator) InvalidateImage(ctx context.Context, key string) {
	c.advance()
	for _, l := range c.managed() {
		if err := l.Invalidate(ctx, key); err != nil {
			logging.Logger.Warn("Cache layer invalidation failed",
				zap.String("layer", l.Kind().String()),
				zap.String("key", key),
				zap.Error(err))
		}
	}
	c.bus.Dispatch(events.NewInvalidate(key))
	logging.Logger.Info("Image invalidated", zap.String("key", key))
}

// InvalidateAll clears every managed layer and announces it
func (c *Coordinator) InvalidateAll(ctx context.Context) {
	c.advance()
	_ = c.clear(ctx, c.managed())
	c.bus.Dispatch(events.NewClear())
	logging.Logger.Info("All image caches invalidated")
}

// ClearResolutionCaches clears the session, local and query layers, leaving
// the offline worker untouched
func (c *Coordinator) ClearResolutionCaches(ctx context.Context) error {
	c.advance()
	var layers []Layer
	for _, l := range c.managed() {
		if l.Kind() != LayerWorker {
			layers = append(layers, l)
		}
	}
	err := c.clear(ctx, layers)
	c.bus.Dispatch(events.NewClear())
	return err
}

func (c *Coordinator) clear(ctx context.Context, layers []Layer) error {
	var errs []error
	for _, l := range layers {
		if err := l.Clear(ctx); err != nil {
			logging.Logger.Warn("Cache layer clear failed",
				zap.String("layer", l.Kind().String()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", l.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

// RegisterQueryCache subscribes a query cache to invalidation events and
// makes it the query layer if none is set. Registering the same instance
// again has no effect and returns false.
func (c *Coordinator) RegisterQueryCache(q *QueryLayer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registered[q]; ok {
		return false
	}
	c.registered[q] = c.bus.Subscribe("query-cache-"+uuid.New().String(), q.Handle)
	if _, ok := c.layers[LayerQuery]; !ok {
		c.layers[LayerQuery] = q
	}
	return true
}

// UnregisterQueryCache removes a registered query cache's subscription
func (c *Coordinator) UnregisterQueryCache(q *QueryLayer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if unsubscribe, ok := c.registered[q]; ok {
		unsubscribe()
		delete(c.registered, q)
	}
	if c.layers[LayerQuery] == Layer(q) {
		delete(c.layers, LayerQuery)
	}
}

// LoadVersion reads the stored global cache version
func (c *Coordinator) LoadVersion(ctx context.Context) error {
	if c.versions == nil {
		return nil
	}
	v, err := c.versions.Get(ctx)
	if err != nil {
		return err
	}
	c.version.Store(v)
	logging.Logger.Info("Cache version loaded", zap.String("version", v))
	return nil
}

// SetGlobalVersion stores a new global cache version. Every cached record of
// the previous version becomes a miss.
func (c *Coordinator) SetGlobalVersion(ctx context.Context, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return version.ErrInvalidVersion
	}
	if c.versions != nil {
		if err := c.versions.Set(ctx, v); err != nil {
			return err
		}
	}
	c.applyVersion(ctx, v)
	return nil
}

func (c *Coordinator) applyVersion(ctx context.Context, v string) {
	previous := c.Version()
	c.version.Store(v)
	c.advance()

	var layers []Layer
	for _, l := range c.managed() {
		if w, ok := l.(*WorkerLayer); ok {
			if err := w.UpdateVersion(ctx, v); err != nil {
				logging.Logger.Warn("Worker did not accept cache version",
					zap.String("version", v), zap.Error(err))
			}
			continue
		}
		layers = append(layers, l)
	}
	_ = c.clear(ctx, layers)
	c.bus.Dispatch(events.NewUpdate())

	logging.Logger.Info("Cache version changed",
		zap.String("from", previous),
		zap.String("to", v))
}

// WatchVersion polls the version store and applies changes made elsewhere,
// e.g. by another replica. It returns when ctx is done.
func (c *Coordinator) WatchVersion(ctx context.Context, interval time.Duration) {
	if c.versions == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := c.versions.Get(ctx)
			if err != nil {
				logging.Logger.Debug("Cache version poll failed", zap.Error(err))
				continue
			}
			if v != c.Version() {
				c.applyVersion(ctx, v)
			}
		}
	}
}

// LoadingPlan combines the loading and placeholder strategies for key
func (c *Coordinator) LoadingPlan(ctx context.Context, key string) Plan {
	info := network.InfoFrom(ctx, c.network)
	plan := Plan{
		Delay:                 network.LoadingDelay(info),
		LowerQuality:          network.ShouldUseLowerQuality(info),
		PrioritizePlaceholder: placeholder.ShouldPrioritize(info),
	}
	if c.placeholders != nil {
		plan.Placeholders = c.placeholders.Fetch(ctx, key, plan.PrioritizePlaceholder)
	}
	return plan
}
