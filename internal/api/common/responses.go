package common

import (
	"github.com/lissto-dev/imagecache/pkg/coordinator"
)

// ImageResponse is the resolved URL for one image plus, on request, the
// loading plan for the caller's connection
type ImageResponse struct {
	coordinator.Result
	Error string            `json:"error,omitempty"`
	Plan  *coordinator.Plan `json:"plan,omitempty"`
}

// NewImageResponse converts a coordinator result
func NewImageResponse(res coordinator.Result) ImageResponse {
	resp := ImageResponse{Result: res}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// InvalidateResponse reports what was invalidated
type InvalidateResponse struct {
	Key   string `json:"key,omitempty"`
	Scope string `json:"scope"`
}

// VersionResponse carries the global cache version
type VersionResponse struct {
	Version string `json:"version"`
}

// UserInfoResponse describes the caller's API key
type UserInfoResponse struct {
	Name string `json:"name"`
	Role string `json:"role"`
}
