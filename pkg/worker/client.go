package worker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is the page-side handle to a running worker. It implements
// http.RoundTripper so image fetches go through the worker.
type Client struct {
	w       *Worker
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Reply
}

func newClient(w *Worker) *Client {
	c := &Client{
		w:       w,
		timeout: w.cfg.MessageTimeout,
		pending: make(map[string]chan Reply),
	}
	go c.dispatch()
	return c
}

// State returns the worker lifecycle state
func (c *Client) State() State {
	return c.w.State()
}

// Done is closed when the worker stops
func (c *Client) Done() <-chan struct{} {
	return c.w.done
}

// CacheName returns the worker's current image cache name
func (c *Client) CacheName() string {
	return c.w.CacheName()
}

// CacheNames returns the names of the worker's caches
func (c *Client) CacheNames() []string {
	return c.w.storage.Keys()
}

// Cached reports whether url is stored in the current image cache
func (c *Client) Cached(url string) bool {
	_, ok := c.w.storage.Open(c.w.CacheName()).Match(url)
	return ok
}

func (c *Client) dispatch() {
	for {
		select {
		case r := <-c.w.replies:
			c.mu.Lock()
			ch, ok := c.pending[r.ID]
			delete(c.pending, r.ID)
			c.mu.Unlock()
			if !ok {
				c.w.log.Debug("Dropping worker reply with no waiter",
					zap.String("id", r.ID), zap.String("action", r.Action))
				continue
			}
			ch <- r
		case <-c.w.done:
			return
		}
	}
}

// Invalidate asks the worker to drop its image cache. It does not wait.
func (c *Client) Invalidate() {
	go func() {
		select {
		case c.w.messages <- Message{Type: TypeInvalidateCache}:
		case <-c.w.done:
		case <-time.After(c.timeout):
			c.w.log.Warn("Worker did not accept invalidate message")
		}
	}()
}

// ClearCache removes one URL from the image cache, or the whole cache when
// url is empty. It reports false on error or timeout.
func (c *Client) ClearCache(ctx context.Context, url string) bool {
	return c.request(ctx, Message{Action: ActionClearCache, Key: url})
}

// UpdateCacheVersion switches the worker to a new image cache version.
// It reports false on error or timeout.
func (c *Client) UpdateCacheVersion(ctx context.Context, version string) bool {
	return c.request(ctx, Message{Action: ActionUpdateCacheVersion, Version: version})
}

func (c *Client) request(ctx context.Context, msg Message) bool {
	msg.ID = uuid.New().String()
	ch := make(chan Reply, 1)

	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.w.messages <- msg:
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	case <-c.w.done:
		return false
	}

	select {
	case r := <-ch:
		if !r.OK() {
			c.w.log.Warn("Worker message failed",
				zap.String("action", r.Action), zap.String("error", r.Error))
		}
		return r.OK()
	case <-timer.C:
		c.w.log.Warn("Worker message timed out", zap.String("action", msg.Action), zap.String("id", msg.ID))
		return false
	case <-ctx.Done():
		return false
	case <-c.w.done:
		return false
	}
}

// RoundTrip sends image requests through the worker and everything else
// straight to the network
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	if !IsImageRequest(req) {
		return c.w.network.RoundTrip(req)
	}

	fe := &fetchEvent{req: req, reply: make(chan fetchResult, 1)}
	select {
	case c.w.fetches <- fe:
	case <-c.w.done:
		return c.w.network.RoundTrip(req)
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}

	select {
	case res := <-fe.reply:
		return res.resp, res.err
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}
