// Package api provides HTTP handlers for the proxy API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"anistream-proxy/pkg/appctx"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/playlist"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/urlutil"
)

// Version is reported by /api/info.
const Version = "1.0.0"

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", h.handleFavicon)
	mux.HandleFunc("GET /placeholder.svg", h.handlePlaceholder)
	mux.HandleFunc("GET /test-stream", h.handleTestStream)

	// Proxy routes
	mux.HandleFunc("GET "+playlist.ManifestPath, h.proxyText(types.StreamTypeManifest, "manifest"))
	mux.HandleFunc("GET "+playlist.KeyPath, h.proxyText(types.StreamTypeKey, "key file"))
	mux.HandleFunc("GET "+playlist.VideoPath, h.proxyText(types.StreamTypeVideo, "video segment"))
	mux.HandleFunc("GET /proxy-image", h.proxyText(types.StreamTypeImage, "image"))
	mux.HandleFunc("GET /proxy-hls", h.proxyJSON(types.StreamTypeRelay, "stream"))
	mux.HandleFunc("GET /proxy", h.proxyJSON(types.StreamTypeJSON, "data"))
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "running",
		"version":   Version,
		"base_url":  h.ctx.BaseURL,
		"endpoints": h.ctx.ProxyService.Types(),
	})
}

// handleFavicon serves the favicon.
func (h *Handlers) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// proxyText serves an endpoint whose errors are plain text. An upstream
// timeout is answered with a bare 504.
func (h *Handlers) proxyText(t types.StreamType, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := h.parseStreamRequest(r)

		resp, err := h.ctx.ProxyService.Handle(r.Context(), t, req)
		if err != nil {
			status := h.logFailure(r.Context(), t, req, err)
			switch {
			case status == http.StatusGatewayTimeout:
				w.WriteHeader(status)
			case errors.Is(err, proxyerr.ErrMissingURL):
				http.Error(w, "URL parameter is required", status)
			default:
				http.Error(w, fmt.Sprintf("Error proxying %s: %v", what, err), status)
			}
			return
		}

		h.writeStreamResponse(w, r, resp)
	}
}

// proxyJSON serves an endpoint whose errors are JSON objects.
func (h *Handlers) proxyJSON(t types.StreamType, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := h.parseStreamRequest(r)

		resp, err := h.ctx.ProxyService.Handle(r.Context(), t, req)
		if err != nil {
			status := h.logFailure(r.Context(), t, req, err)

			var statusErr *proxyerr.UpstreamStatusError
			switch {
			case errors.Is(err, proxyerr.ErrMissingURL):
				h.writeError(w, status, "No URL provided")
			case errors.As(err, &statusErr):
				h.writeError(w, status, fmt.Sprintf("Upstream returned status %d: %s", statusErr.Code, http.StatusText(statusErr.Code)))
			default:
				h.writeError(w, status, fmt.Sprintf("Failed to fetch %s", what))
			}
			return
		}

		h.writeStreamResponse(w, r, resp)
	}
}

// logFailure logs a failed proxy request on the request's logger, which
// already carries the request ID and target URL, and returns the status to
// answer with.
func (h *Handlers) logFailure(ctx context.Context, t types.StreamType, req *types.StreamRequest, err error) int {
	status := proxyerr.StatusCode(err)
	log := logging.FromContext(ctx, h.log.WithURL(urlutil.Truncate(req.URL, 120))).
		With("type", t, "status", status).
		WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("proxy request failed")
	} else {
		log.Warn("proxy request rejected")
	}
	return status
}

// Helper methods

func (h *Handlers) parseStreamRequest(r *http.Request) *types.StreamRequest {
	q := r.URL.Query()
	return &types.StreamRequest{
		URL:     q.Get("url"),
		Referer: q.Get("referer"),
		Domain:  q.Get("domain"),
		Title:   q.Get("title"),
		Range:   r.Header.Get("Range"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handlers) writeStreamResponse(w http.ResponseWriter, r *http.Request, resp *types.StreamResponse) {
	if resp.RedirectURL != "" {
		if resp.Body != nil {
			resp.Body.Close()
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusFound
		}
		http.Redirect(w, r, resp.RedirectURL, status)
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)

	if resp.Body != nil {
		defer resp.Body.Close()
		if n, err := io.Copy(w, resp.Body); err != nil {
			// Usually the player went away mid-segment.
			h.log.Debug("response copy aborted", "bytes", n, "error", err)
		}
	}
}
