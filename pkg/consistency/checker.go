// Package consistency repairs stored image paths that drifted from their
// canonical form and resets the caches that may hold the old URLs.
package consistency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/records"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
)

// DefaultConcurrency bounds parallel record updates
const DefaultConcurrency = 8

// Result summarizes one check run
type Result struct {
	Scanned   int       `json:"scanned"`
	Fixed     int       `json:"fixed"`
	Errors    int       `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the record access the checker needs
type Store interface {
	List(ctx context.Context) ([]records.ImageRecord, error)
	UpdatePath(ctx context.Context, id, path string) error
}

// CacheClearer drops cached URL resolutions
type CacheClearer interface {
	ClearResolutionCaches(ctx context.Context) error
}

// Checker normalizes every stored path
type Checker struct {
	store       Store
	normalizer  storagepath.Normalizer
	caches      CacheClearer
	concurrency int
	now         func() time.Time
}

// NewChecker creates a Checker. caches may be nil.
func NewChecker(store Store, normalizer storagepath.Normalizer, caches CacheClearer, concurrency int) *Checker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Checker{
		store:       store,
		normalizer:  normalizer,
		caches:      caches,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// CheckAndFix rewrites every non-canonical path. A failing record is counted
// and skipped; only a failure to list records fails the run.
func (c *Checker) CheckAndFix(ctx context.Context) (Result, error) {
	log := logging.Component("consistency")

	list, err := c.store.List(ctx)
	if err != nil {
		return Result{Timestamp: c.now()}, fmt.Errorf("failed to list image records: %w", err)
	}

	var fixed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, rec := range list {
		g.Go(func() error {
			canonical := c.normalizer.Normalize(rec.StoragePath)
			if canonical == rec.StoragePath {
				return nil
			}
			if err := c.store.UpdatePath(gctx, rec.ID, canonical); err != nil {
				failed.Add(1)
				log.Warn("Failed to fix image path",
					zap.String("id", rec.ID),
					zap.String("path", rec.StoragePath),
					zap.Error(err))
				return nil
			}
			fixed.Add(1)
			log.Debug("Fixed image path",
				zap.String("id", rec.ID),
				zap.String("from", rec.StoragePath),
				zap.String("to", canonical))
			return nil
		})
	}
	_ = g.Wait()

	if c.caches != nil {
		if err := c.caches.ClearResolutionCaches(ctx); err != nil {
			log.Warn("Failed to clear caches after consistency check", zap.Error(err))
		}
	}

	res := Result{
		Scanned:   len(list),
		Fixed:     int(fixed.Load()),
		Errors:    int(failed.Load()),
		Timestamp: c.now(),
	}
	log.Info("Consistency check completed",
		zap.Int("scanned", res.Scanned),
		zap.Int("fixed", res.Fixed),
		zap.Int("errors", res.Errors))
	return res, nil
}
