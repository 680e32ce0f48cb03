package network

import "time"

const (
	// DefaultLoadingDelay throttles image requests on offline or very slow
	// connections so retries do not pile up
	DefaultLoadingDelay = 300 * time.Millisecond

	// HighRTTThreshold is the round-trip time above which lower quality
	// images are requested
	HighRTTThreshold = 500 * time.Millisecond
)

// LoadingDelay returns how long to wait before requesting an image
func LoadingDelay(info Info) time.Duration {
	if !info.Online || info.IsVerySlow() {
		return DefaultLoadingDelay
	}
	return 0
}

// ShouldUseLowerQuality reports whether a reduced quality variant should be
// requested
func ShouldUseLowerQuality(info Info) bool {
	return info.SaveData || info.IsVerySlow() || info.RTT > HighRTTThreshold
}
