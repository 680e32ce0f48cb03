package worker

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CachedResponse is a stored copy of an HTTP response
type CachedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

func newCachedResponse(resp *http.Response, body []byte) *CachedResponse {
	return &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	}
}

// Response builds a fresh *http.Response for req from the stored copy
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.StatusCode, http.StatusText(c.StatusCode)),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Cache is one named store of responses keyed by request URL
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
}

func newCache() *Cache {
	return &Cache{entries: make(map[string]*CachedResponse)}
}

// Put stores a response under url, replacing any previous entry
func (c *Cache) Put(url string, resp *CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = resp
}

// Match returns the entry for url
func (c *Cache) Match(url string) (*CachedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[url]
	return resp, ok
}

// Delete removes the entry for url and reports whether it existed
func (c *Cache) Delete(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[url]
	delete(c.entries, url)
	return ok
}

// Keys returns the stored URLs in sorted order
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CacheStorage holds the worker's named caches
type CacheStorage struct {
	mu     sync.RWMutex
	caches map[string]*Cache
	order  []string
}

// NewCacheStorage creates an empty storage
func NewCacheStorage() *CacheStorage {
	return &CacheStorage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it if needed
func (s *CacheStorage) Open(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c
	}
	c := newCache()
	s.caches[name] = c
	s.order = append(s.order, name)
	return c
}

// Has reports whether the named cache exists
func (s *CacheStorage) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok
}

// Delete drops the named cache and reports whether it existed
func (s *CacheStorage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns cache names in creation order
func (s *CacheStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Match searches every cache in creation order
func (s *CacheStorage) Match(url string) (*CachedResponse, bool) {
	s.mu.RLock()
	caches := make([]*Cache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		if resp, ok := c.Match(url); ok {
			return resp, true
		}
	}
	return nil, false
}
