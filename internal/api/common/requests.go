package common

// SetVersionRequest changes the global cache version
type SetVersionRequest struct {
	Version string `json:"version" validate:"required,max=64"`
}

// InvalidateRequest names the image to invalidate. An empty key invalidates
// every image.
type InvalidateRequest struct {
	Key string `json:"key" validate:"omitempty,max=512"`
}
