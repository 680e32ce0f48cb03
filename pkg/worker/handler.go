package worker

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Handler serves image paths through the worker, fetching from origin on miss
type Handler struct {
	client *Client
	origin string
}

// NewHandler creates a Handler proxying to origin
func NewHandler(client *Client, origin string) *Handler {
	return &Handler{client: client, origin: strings.TrimSuffix(origin, "/")}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		http.Error(rw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	target := h.origin + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(rw, "invalid image path", http.StatusBadRequest)
		return
	}

	resp, err := h.client.RoundTrip(req)
	if err != nil {
		h.client.w.log.Warn("Image fetch failed", zap.String("url", target), zap.Error(err))
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for k, values := range resp.Header {
		for _, v := range values {
			rw.Header().Add(k, v)
		}
	}
	rw.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(rw, resp.Body)
}
