// Package remote talks to the object store that holds the image blobs.
// The pipeline only needs public URL generation and bucket bootstrapping.
package remote

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

var (
	// ErrObjectNotFound is returned when the canonical path has no object
	ErrObjectNotFound = errors.New("object not found")
	// ErrStoreUnavailable is returned when the object store cannot be reached
	ErrStoreUnavailable = errors.New("object store unavailable")
)

// Store is the subset of the object store used by the image pipeline
type Store interface {
	// PublicURL returns the public URL for a canonical storage path
	PublicURL(ctx context.Context, canonicalPath string) (string, error)
	ListBuckets(ctx context.Context) ([]string, error)
	CreateBucket(ctx context.Context, name string, public bool) error
}

// EnsureBucket creates the bucket as publicly readable when it does not exist
func EnsureBucket(ctx context.Context, store Store, name string) error {
	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}
	for _, b := range buckets {
		if b == name {
			logging.Logger.Debug("Bucket already exists", zap.String("bucket", name))
			return nil
		}
	}

	if err := store.CreateBucket(ctx, name, true); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	logging.Logger.Info("Created public image bucket", zap.String("bucket", name))
	return nil
}
