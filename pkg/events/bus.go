package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

// Listener receives dispatched events
type Listener func(Event)

// Bus is a publish/subscribe registry for cache events. It is constructed by
// application setup and passed to the components that need it.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]Listener
	seq       uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{listeners: make(map[string]Listener)}
}

// Subscribe registers fn under listenerID and returns a function that removes
// it. Subscribing again with the same ID replaces the previous listener.
func (b *Bus) Subscribe(listenerID string, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.listeners[listenerID] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, listenerID)
		})
	}
}

// SubscribeKey calls onInvalidate for every event that matches key
func (b *Bus) SubscribeKey(key string, onInvalidate Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("key:%s#%d", key, b.seq)
	b.mu.Unlock()

	return b.Subscribe(id, func(e Event) {
		if Matches(key, e) {
			onInvalidate(e)
		}
	})
}

// Dispatch delivers e synchronously to every registered listener. Delivery
// order is unspecified. A panicking listener is logged and stays subscribed.
func (b *Bus) Dispatch(e Event) {
	b.mu.RLock()
	snapshot := make(map[string]Listener, len(b.listeners))
	for id, fn := range b.listeners {
		snapshot[id] = fn
	}
	b.mu.RUnlock()

	for id, fn := range snapshot {
		deliver(id, fn, e)
	}
}

// Len returns the number of registered listeners
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func deliver(id string, fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger.Error("Cache event listener panicked",
				zap.String("listener", id),
				zap.String("type", string(e.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(e)
}
