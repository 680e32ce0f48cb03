package cache

import (
	"context"
	"time"
)

// Cache defines the interface for the key/value stores that back the image
// cache layers. A ttl of zero stores the value without expiry.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
	Close() error
}
