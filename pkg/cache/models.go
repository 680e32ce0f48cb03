package cache

import (
	"time"

	"github.com/lissto-dev/imagecache/pkg/network"
)

// Record is the unit stored by the image cache layers for one logical image
type Record struct {
	URL              string                `json:"url"`
	AspectRatio      *float64              `json:"aspect_ratio,omitempty"`
	TinyPlaceholder  string                `json:"tiny_placeholder,omitempty"`
	ColorPlaceholder string                `json:"color_placeholder,omitempty"`
	ContentHash      string                `json:"content_hash,omitempty"`
	Timestamp        time.Time             `json:"timestamp"`
	LastUpdated      string                `json:"last_updated"`
	CacheVersion     string                `json:"cache_version,omitempty"`
	NetworkType      network.EffectiveType `json:"network_type,omitempty"`
}

// Age returns how long ago the record was written
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// IsValid reports whether the record carries enough data to be served
func (r *Record) IsValid() bool {
	return r != nil && r.URL != "" && !r.Timestamp.IsZero()
}
