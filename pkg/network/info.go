// Package network is the single boundary between the image pipeline and the
// live connection signals of a client. Everything above it works on the
// plain Info value and stays testable without a real browser.
package network

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EffectiveType is the connection class reported by the Network Information API
type EffectiveType string

const (
	TypeSlow2G  EffectiveType = "slow-2g"
	Type2G      EffectiveType = "2g"
	Type3G      EffectiveType = "3g"
	Type4G      EffectiveType = "4g"
	TypeUnknown EffectiveType = ""
)

// ParseEffectiveType normalizes a reported connection class
func ParseEffectiveType(s string) EffectiveType {
	switch EffectiveType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeSlow2G:
		return TypeSlow2G
	case Type2G:
		return Type2G
	case Type3G:
		return Type3G
	case Type4G:
		return Type4G
	default:
		return TypeUnknown
	}
}

// Info is a snapshot of the client's network conditions
type Info struct {
	EffectiveType EffectiveType `json:"effective_type"`
	SaveData      bool          `json:"save_data"`
	RTT           time.Duration `json:"rtt"`
	Online        bool          `json:"online"`
}

// Online returns conditions for an online client on the given connection class
func Online(t EffectiveType) Info {
	return Info{EffectiveType: t, Online: true}
}

// Offline returns conditions for a client without connectivity
func Offline() Info {
	return Info{Online: false}
}

// IsVerySlow reports slow-2g and 2g connections
func (i Info) IsVerySlow() bool {
	return i.EffectiveType == TypeSlow2G || i.EffectiveType == Type2G
}

// IsSlow reports slow-2g, 2g and 3g connections
func (i Info) IsSlow() bool {
	return i.IsVerySlow() || i.EffectiveType == Type3G
}

// Class is the coarse connection quality the cache coordinator plans for
type Class int

const (
	ClassFast Class = iota
	ClassMedium
	ClassSlow
	ClassOffline
)

// String returns the string representation of the class
func (c Class) String() string {
	switch c {
	case ClassOffline:
		return "offline"
	case ClassSlow:
		return "slow"
	case ClassMedium:
		return "medium"
	default:
		return "fast"
	}
}

// Classify maps network conditions to a coarse class. Save-data mode is
// treated like a slow connection.
func Classify(info Info) Class {
	switch {
	case !info.Online:
		return ClassOffline
	case info.IsVerySlow() || info.SaveData:
		return ClassSlow
	case info.EffectiveType == Type3G:
		return ClassMedium
	default:
		return ClassFast
	}
}

// Provider supplies the current network conditions
type Provider interface {
	Current() Info
}

// Monitor is a Provider whose conditions can be updated at runtime
type Monitor struct {
	mu   sync.RWMutex
	info Info
}

// NewMonitor creates a Monitor starting from the given conditions
func NewMonitor(initial Info) *Monitor {
	return &Monitor{info: initial}
}

// Current returns the latest conditions
func (m *Monitor) Current() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Update replaces the current conditions
func (m *Monitor) Update(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// SetOnline flips connectivity while keeping the other signals
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.Online = online
}

// Static is a Provider that always reports the same conditions
type Static Info

// Current returns the fixed conditions
func (s Static) Current() Info {
	return Info(s)
}

type contextKey struct{}

// WithInfo attaches per-request conditions to ctx
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// InfoFrom returns the conditions attached to ctx, or the fallback provider's
// current conditions when none are attached
func InfoFrom(ctx context.Context, fallback Provider) Info {
	if info, ok := ctx.Value(contextKey{}).(Info); ok {
		return info
	}
	if fallback == nil {
		return Online(Type4G)
	}
	return fallback.Current()
}

// Client hint and private headers read by FromRequest
const (
	HeaderECT      = "ECT"
	HeaderRTT      = "RTT"
	HeaderSaveData = "Save-Data"
	HeaderOffline  = "X-Network-Offline"
)

// FromRequest derives conditions from the client hints of an HTTP request.
// Requests without hints are treated as online on an unknown connection.
func FromRequest(r *http.Request) Info {
	info := Info{
		EffectiveType: ParseEffectiveType(r.Header.Get(HeaderECT)),
		SaveData:      strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderSaveData)), "on"),
		Online:        true,
	}
	if rtt := r.Header.Get(HeaderRTT); rtt != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(rtt)); err == nil && ms >= 0 {
			info.RTT = time.Duration(ms) * time.Millisecond
		}
	}
	if v := r.Header.Get(HeaderOffline); v == "1" || strings.EqualFold(v, "true") {
		info.Online = false
	}
	return info
}
