// Package worker is the installable offline image cache. A Worker runs in its
// own goroutine, owns its CacheStorage and is reached only through a Client:
// typed messages on channels and intercepted fetches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

const (
	// ImageCachePrefix names the versioned image stores
	ImageCachePrefix = "image-cache-"
	// PlaceholderCacheName survives version changes
	PlaceholderCacheName = "placeholder-cache"

	DefaultPlaceholderAsset = "/images/placeholder.svg"
	DefaultLoadingAsset     = "/images/loading.svg"
	DefaultMessageTimeout   = 3 * time.Second

	// Response header reporting how a fetch was served
	HeaderCacheStatus = "X-Image-Cache"
)

// ErrInstallFailed is returned by Register when critical assets cannot be cached
var ErrInstallFailed = errors.New("worker install failed")

var imageExtension = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp|avif)$`)

// IsImageRequest reports whether a request is intercepted by the worker
func IsImageRequest(req *http.Request) bool {
	return req.Method == http.MethodGet && imageExtension.MatchString(req.URL.Path)
}

// State is the worker lifecycle state
type State int32

const (
	StateInstalling State = iota
	StateWaiting
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Config configures a worker
type Config struct {
	// Origin is the base URL critical assets are fetched from
	Origin string
	// Version selects the image cache "image-cache-<version>"
	Version          string
	PlaceholderAsset string
	LoadingAsset     string
	MessageTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = "v1"
	}
	if c.PlaceholderAsset == "" {
		c.PlaceholderAsset = DefaultPlaceholderAsset
	}
	if c.LoadingAsset == "" {
		c.LoadingAsset = DefaultLoadingAsset
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = DefaultMessageTimeout
	}
	c.Origin = strings.TrimSuffix(c.Origin, "/")
	return c
}

func (c Config) assetURL(asset string) string {
	if strings.HasPrefix(asset, "http://") || strings.HasPrefix(asset, "https://") {
		return asset
	}
	return c.Origin + "/" + strings.TrimPrefix(asset, "/")
}

type fetchEvent struct {
	req   *http.Request
	reply chan fetchResult
}

type fetchResult struct {
	resp *http.Response
	err  error
}

// Worker is the offline cache event loop
type Worker struct {
	cfg     Config
	network http.RoundTripper
	storage *CacheStorage
	log     *zap.Logger

	state atomic.Int32

	mu      sync.RWMutex
	version string

	messages  chan Message
	replies   chan Reply
	fetches   chan *fetchEvent
	installed chan error
	done      chan struct{}
}

func newWorker(cfg Config, network http.RoundTripper) *Worker {
	cfg = cfg.withDefaults()
	if network == nil {
		network = http.DefaultTransport
	}
	w := &Worker{
		cfg:       cfg,
		network:   network,
		storage:   NewCacheStorage(),
		log:       logging.Component("worker"),
		version:   cfg.Version,
		messages:  make(chan Message, 16),
		replies:   make(chan Reply, 16),
		fetches:   make(chan *fetchEvent),
		installed: make(chan error, 1),
		done:      make(chan struct{}),
	}
	w.state.Store(int32(StateInstalling))
	return w
}

// Register installs and activates a worker and returns the page-side client.
// When install fails the worker becomes redundant and no client is returned;
// the caller continues without an offline cache. The worker stops when ctx
// is cancelled.
func Register(ctx context.Context, cfg Config, network http.RoundTripper) (*Client, error) {
	w := newWorker(cfg, network)
	go w.run(ctx)

	select {
	case err := <-w.installed:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return newClient(w), nil
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.log.Debug("Worker state changed", zap.String("state", s.String()))
}

// CacheName returns the current image cache name
func (w *Worker) CacheName() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return ImageCachePrefix + w.version
}

// Storage exposes the worker's cache storage for inspection
func (w *Worker) Storage() *CacheStorage {
	return w.storage
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	if err := w.install(ctx); err != nil {
		w.log.Error("Worker install failed", zap.Error(err))
		w.setState(StateRedundant)
		w.installed <- err
		return
	}
	w.setState(StateWaiting)
	w.activate()
	w.setState(StateActive)
	w.installed <- nil

	for {
		select {
		case <-ctx.Done():
			w.setState(StateRedundant)
			return
		case msg := <-w.messages:
			w.handleMessage(ctx, msg)
		case fe := <-w.fetches:
			go w.handleFetch(fe)
		}
	}
}

func (w *Worker) install(ctx context.Context) error {
	images := w.storage.Open(w.CacheName())
	placeholders := w.storage.Open(PlaceholderCacheName)

	for _, asset := range []string{w.cfg.PlaceholderAsset, w.cfg.LoadingAsset} {
		url := w.cfg.assetURL(asset)
		cached, err := w.fetchAsset(ctx, url)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstallFailed, url, err)
		}
		images.Put(url, cached)
		if asset == w.cfg.PlaceholderAsset {
			placeholders.Put(url, cached)
		}
	}
	w.log.Info("Critical assets cached", zap.String("cache", w.CacheName()))
	return nil
}

func (w *Worker) fetchAsset(ctx context.Context, url string) (*CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return newCachedResponse(resp, body), nil
}

// activate removes image caches of other versions
func (w *Worker) activate() {
	current := w.CacheName()
	for _, name := range w.storage.Keys() {
		if strings.HasPrefix(name, ImageCachePrefix) && name != current {
			w.storage.Delete(name)
			w.log.Info("Deleted outdated image cache", zap.String("cache", name))
		}
	}
}

func (w *Worker) handleFetch(fe *fetchEvent) {
	req := fe.req
	url := req.URL.String()

	if cached, ok := w.storage.Match(url); ok {
		resp := cached.Response(req)
		resp.Header.Set(HeaderCacheStatus, "hit")
		fe.reply <- fetchResult{resp: resp}
		return
	}

	resp, err := w.network.RoundTrip(req)
	if err != nil {
		w.log.Debug("Network fetch failed, serving placeholder", zap.String("url", url), zap.Error(err))
		fe.reply <- w.placeholder(req, err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		fe.reply <- fetchResult{resp: resp}
		return
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		fe.reply <- w.placeholder(req, err)
		return
	}
	cached := newCachedResponse(resp, body)
	name := w.CacheName()
	go w.storage.Open(name).Put(url, cached)

	out := cached.Response(req)
	out.Header.Set(HeaderCacheStatus, "miss")
	fe.reply <- fetchResult{resp: out}
}

func (w *Worker) placeholder(req *http.Request, cause error) fetchResult {
	url := w.cfg.assetURL(w.cfg.PlaceholderAsset)
	cached, ok := w.storage.Open(PlaceholderCacheName).Match(url)
	if !ok {
		return fetchResult{err: cause}
	}
	resp := cached.Response(req)
	resp.Header.Set(HeaderCacheStatus, "fallback")
	return fetchResult{resp: resp}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	if msg.Type == TypeInvalidateCache {
		name := w.CacheName()
		w.storage.Delete(name)
		w.storage.Open(name)
		w.log.Info("Image cache invalidated", zap.String("cache", name))
		return
	}

	reply := Reply{ID: msg.ID, Action: msg.Action, Status: StatusSuccess}
	switch msg.Action {
	case ActionClearCache:
		w.clearCache(msg.Key)
	case ActionUpdateCacheVersion:
		if err := w.updateVersion(msg.Version); err != nil {
			reply.Status = StatusFailure
			reply.Error = err.Error()
		}
	default:
		w.log.Warn("Unknown worker message", zap.String("action", msg.Action), zap.String("type", msg.Type))
		return
	}

	select {
	case w.replies <- reply:
	case <-ctx.Done():
	}
}

func (w *Worker) clearCache(key string) {
	name := w.CacheName()
	if key == "" {
		w.storage.Delete(name)
		w.storage.Open(name)
		w.log.Info("Image cache cleared", zap.String("cache", name))
		return
	}
	removed := w.storage.Open(name).Delete(key)
	w.log.Debug("Image cache entry cleared", zap.String("url", key), zap.Bool("removed", removed))
}

func (w *Worker) updateVersion(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("version is required")
	}

	previous := w.storage.Open(w.CacheName())
	w.mu.Lock()
	w.version = v
	w.mu.Unlock()

	next := w.storage.Open(w.CacheName())
	if next != previous {
		for _, asset := range []string{w.cfg.PlaceholderAsset, w.cfg.LoadingAsset} {
			url := w.cfg.assetURL(asset)
			if cached, ok := previous.Match(url); ok {
				next.Put(url, cached)
			}
		}
	}
	w.activate()
	w.log.Info("Image cache version updated", zap.String("version", v))
	return nil
}
