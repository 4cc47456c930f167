package streams

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/interfaces"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/upstream"
	"anistream-proxy/pkg/urlutil"
)

// JSONHandler passes catalogue API responses through. Bodies that are not
// valid JSON are returned as plain text.
type JSONHandler struct {
	fetcher   *upstream.Fetcher
	userAgent string
	timeout   time.Duration
	log       *logging.Logger
}

// NewJSONHandler creates a new JSON passthrough handler.
func NewJSONHandler(fetcher *upstream.Fetcher, userAgent string, timeout time.Duration, log *logging.Logger) *JSONHandler {
	if userAgent == "" {
		userAgent = headers.DefaultUserAgent
	}
	return &JSONHandler{
		fetcher:   fetcher,
		userAgent: userAgent,
		timeout:   timeout,
		log:       log.WithComponent("json-handler"),
	}
}

// Type returns the stream type.
func (h *JSONHandler) Type() types.StreamType {
	return types.StreamTypeJSON
}

// Handle fetches req.URL as JSON.
func (h *JSONHandler) Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	hdr := make(http.Header)
	hdr.Set("Accept", "application/json")
	hdr.Set("User-Agent", h.userAgent)

	body, _, err := h.fetcher.FetchText(ctx, upstream.OriginRequest{
		URL:     req.URL,
		Header:  hdr,
		Timeout: h.timeout,
	})
	if err != nil {
		h.log.Warn("json fetch failed", "url", urlutil.Truncate(req.URL, 120), "error", err)
		return nil, err
	}

	contentType := "application/json"
	if !json.Valid([]byte(body)) {
		contentType = "text/plain"
	}

	return &types.StreamResponse{
		ContentType: contentType,
		Body:        io.NopCloser(strings.NewReader(body)),
		StatusCode:  http.StatusOK,
	}, nil
}

var _ interfaces.StreamHandler = (*JSONHandler)(nil)
