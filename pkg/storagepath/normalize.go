// Package storagepath canonicalizes logical image keys and stored object paths
// so every cache layer and the object store address the same resource.
package storagepath

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultExtension is appended to logical keys that carry no extension
const DefaultExtension = ".webp"

// Normalizer produces bucket-qualified paths for a single bucket
type Normalizer struct {
	Bucket string
}

// New creates a Normalizer for the given bucket name
func New(bucket string) Normalizer {
	return Normalizer{Bucket: strings.Trim(bucket, "/")}
}

func (n Normalizer) prefix() string {
	return n.Bucket + "/"
}

// Normalize returns the canonical form "<bucket>/<relative-path>".
// The bucket prefix appears exactly once, at position 0, no matter how many
// times it was applied upstream. Normalize(Normalize(p)) == Normalize(p).
func (n Normalizer) Normalize(path string) string {
	if path == "" {
		return ""
	}
	prefix := n.prefix()
	rest := strings.TrimPrefix(path, "/")
	if rest == n.Bucket {
		return prefix
	}

	for {
		rest = strings.TrimLeft(collapseSlashes(rest), "/")
		if !strings.Contains(rest, prefix) {
			break
		}
		parts := strings.Split(rest, prefix)
		kept := make([]string, 0, len(parts))
		for _, part := range parts {
			if part != "" {
				kept = append(kept, part)
			}
		}
		rest = strings.Join(kept, "/")
	}
	return prefix + rest
}

func collapseSlashes(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

// ToPublicURL joins the normalized path onto baseURL, escaping each segment
func (n Normalizer) ToPublicURL(path, baseURL string) string {
	normalized := n.Normalize(path)
	if normalized == "" {
		return ""
	}
	segments := strings.Split(normalized, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.Join(segments, "/")
}

// ToBucketRelative strips the bucket prefix for APIs that are already scoped
// to the bucket
func (n Normalizer) ToBucketRelative(path string) string {
	return strings.TrimPrefix(n.Normalize(path), n.prefix())
}

// ObjectPath builds the relative object path for a logical key and optional
// size variant, e.g. "hero-banner.webp" or "hero-banner@640.webp"
func ObjectPath(key, size string) string {
	key = strings.TrimPrefix(key, "/")
	ext := ""
	if !hasExtension(key) {
		ext = DefaultExtension
	}
	if size == "" {
		return key + ext
	}
	if ext == "" {
		dot := strings.LastIndex(key, ".")
		return fmt.Sprintf("%s@%s%s", key[:dot], size, key[dot:])
	}
	return fmt.Sprintf("%s@%s%s", key, size, ext)
}

// CacheKey is the key every cache layer uses for a (key, size) pair
func CacheKey(key, size string) string {
	if size == "" {
		return key
	}
	return key + "@" + size
}

func hasExtension(key string) bool {
	slash := strings.LastIndex(key, "/")
	dot := strings.LastIndex(key, ".")
	return dot > slash && dot < len(key)-1
}
