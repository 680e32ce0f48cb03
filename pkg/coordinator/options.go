package coordinator

import (
	"time"

	"github.com/lissto-dev/imagecache/pkg/network"
)

// LayerKind names a cache layer
type LayerKind int

const (
	// LayerMemory is the per-session cache
	LayerMemory LayerKind = iota
	// LayerLocal is the persistent on-disk cache
	LayerLocal
	// LayerQuery is the URL-resolution cache shared by all sessions
	LayerQuery
	// LayerWorker is the offline worker cache
	LayerWorker
)

func (k LayerKind) String() string {
	switch k {
	case LayerMemory:
		return "memory"
	case LayerLocal:
		return "local"
	case LayerQuery:
		return "query"
	case LayerWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k LayerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var (
	allLayers     = []LayerKind{LayerMemory, LayerLocal, LayerQuery, LayerWorker}
	offlineLayers = []LayerKind{LayerMemory, LayerLocal, LayerWorker}
)

// MaxTTL is the longest TTL any policy allows. Layers keep records this long
// and each read judges freshness against the policy current at that time.
const MaxTTL = 24 * time.Hour

// CacheOptions is the caching policy for one set of network conditions
type CacheOptions struct {
	Priority int           `json:"priority"`
	TTL      time.Duration `json:"ttl"`
	// Layers are consulted in order
	Layers []LayerKind `json:"layers"`
}

// Options derives the caching policy from network conditions
func Options(info network.Info) CacheOptions {
	switch network.Classify(info) {
	case network.ClassOffline:
		return CacheOptions{Priority: 1, TTL: MaxTTL, Layers: offlineLayers}
	case network.ClassSlow:
		return CacheOptions{Priority: 2, TTL: time.Hour, Layers: allLayers}
	case network.ClassMedium:
		return CacheOptions{Priority: 3, TTL: 15 * time.Minute, Layers: allLayers}
	default:
		return CacheOptions{Priority: 3, TTL: 5 * time.Minute, Layers: allLayers}
	}
}

// Uses reports whether kind is among the active layers
func (o CacheOptions) Uses(kind LayerKind) bool {
	for _, k := range o.Layers {
		if k == kind {
			return true
		}
	}
	return false
}
