// Package placeholder decides when a tiny or dominant-color placeholder is
// worth fetching ahead of the full image.
package placeholder

import (
	"context"

	"go.uber.org/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
	"github.com/lissto-dev/imagecache/pkg/network"
)

// Source looks up stored placeholders for a logical image key
type Source interface {
	TinyPlaceholder(ctx context.Context, key string) (string, error)
	ColorPlaceholder(ctx context.Context, key string) (string, error)
}

// Placeholders holds the optional placeholder payloads for one image
type Placeholders struct {
	Tiny  string `json:"tiny_placeholder,omitempty"`
	Color string `json:"color_placeholder,omitempty"`
}

// Empty reports whether neither placeholder is available
func (p Placeholders) Empty() bool {
	return p.Tiny == "" && p.Color == ""
}

// ShouldPrioritize reports whether placeholders should be shown before the
// full image is requested. Only very slow connections qualify.
func ShouldPrioritize(info network.Info) bool {
	return info.Online && info.IsVerySlow()
}

// Strategy fetches placeholders from a Source
type Strategy struct {
	source Source
}

// NewStrategy creates a Strategy backed by source
func NewStrategy(source Source) *Strategy {
	return &Strategy{source: source}
}

// Fetch returns the placeholders for key when prioritize is set. Failures
// degrade to an absent placeholder and are never retried.
func (s *Strategy) Fetch(ctx context.Context, key string, prioritize bool) Placeholders {
	if !prioritize || s.source == nil {
		return Placeholders{}
	}

	var p Placeholders
	tiny, err := s.source.TinyPlaceholder(ctx, key)
	if err != nil {
		logging.Logger.Debug("Tiny placeholder unavailable",
			zap.String("key", key),
			zap.Error(err))
	} else {
		p.Tiny = tiny
	}

	color, err := s.source.ColorPlaceholder(ctx, key)
	if err != nil {
		logging.Logger.Debug("Color placeholder unavailable",
			zap.String("key", key),
			zap.Error(err))
	} else {
		p.Color = color
	}

	return p
}
