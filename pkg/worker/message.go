package worker

// Message types and actions understood by the worker
const (
	TypeInvalidateCache      = "INVALIDATE_CACHE"
	ActionClearCache         = "clearCache"
	ActionUpdateCacheVersion = "updateCacheVersion"
)

// Reply statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Message is sent from the page to the worker. INVALIDATE_CACHE uses Type,
// the request/response actions use Action and carry a correlation ID.
type Message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type,omitempty"`
	Action  string `json:"action,omitempty"`
	Key     string `json:"key,omitempty"`
	Version string `json:"version,omitempty"`
}

// Reply is sent from the worker back to the page
type Reply struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the reply signals success
func (r Reply) OK() bool {
	return r.Status == StatusSuccess
}
