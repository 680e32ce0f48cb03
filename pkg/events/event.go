// Package events carries cache invalidation signals from writers (uploads,
// admin actions) to the readers that display images.
package events

import (
	"strings"
	"time"
)

// Type is the kind of cache event
type Type string

const (
	TypeInvalidate Type = "invalidate"
	TypeUpdate     Type = "update"
	TypeClear      Type = "clear"
)

// Scope is how widely an event applies
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeKey      Scope = "key"
	ScopeCategory Scope = "category"
	ScopePrefix   Scope = "prefix"
)

// Event is a single broadcast cache signal. Events are never persisted.
type Event struct {
	Type      Type      `json:"type"`
	Key       string    `json:"key,omitempty"`
	Category  string    `json:"category,omitempty"`
	Prefix    string    `json:"prefix,omitempty"`
	Scope     Scope     `json:"scope"`
	Timestamp time.Time `json:"timestamp"`
}

// NewInvalidate creates an invalidate event for a single key
func NewInvalidate(key string) Event {
	return Event{Type: TypeInvalidate, Key: key, Scope: ScopeKey, Timestamp: time.Now()}
}

// NewInvalidatePrefix creates an invalidate event for every key with prefix
func NewInvalidatePrefix(prefix string) Event {
	return Event{Type: TypeInvalidate, Prefix: prefix, Scope: ScopePrefix, Timestamp: time.Now()}
}

// NewInvalidateCategory creates an invalidate event for a category
func NewInvalidateCategory(category string) Event {
	return Event{Type: TypeInvalidate, Category: category, Scope: ScopeCategory, Timestamp: time.Now()}
}

// NewClear creates an untargeted clear event
func NewClear() Event {
	return Event{Type: TypeClear, Scope: ScopeGlobal, Timestamp: time.Now()}
}

// NewUpdate creates a global update event, e.g. after a cache version bump
func NewUpdate() Event {
	return Event{Type: TypeUpdate, Scope: ScopeGlobal, Timestamp: time.Now()}
}

// Untargeted reports whether the event names no key, prefix or category
func (e Event) Untargeted() bool {
	return e.Key == "" && e.Prefix == "" && e.Category == ""
}

// Matches reports whether a reader of key must react to e. Invalidate and
// clear events qualify, as do global updates; the event must then target the
// key exactly, by prefix or by category, or be untargeted.
func Matches(key string, e Event) bool {
	relevant := e.Type == TypeInvalidate || e.Type == TypeClear ||
		(e.Type == TypeUpdate && e.Scope == ScopeGlobal)
	if !relevant {
		return false
	}

	if e.Untargeted() {
		return true
	}
	if e.Key != "" && e.Key == key {
		return true
	}
	if e.Prefix != "" && strings.HasPrefix(key, e.Prefix) {
		return true
	}
	return e.Category != "" && strings.Contains(key, e.Category)
}
