package streams

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/interfaces"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/upstream"
	"anistream-proxy/pkg/urlutil"
)

// PlaceholderPath serves the generated fallback poster.
const PlaceholderPath = "/placeholder.svg"

// DefaultImageTitle labels placeholders of requests without a title.
const DefaultImageTitle = "anime"

// PlaceholderURL returns the placeholder location for a poster titled title.
func PlaceholderURL(title string) string {
	if title == "" {
		title = DefaultImageTitle
	}
	return PlaceholderPath + "?height=300&width=200&query=" + url.QueryEscape(title)
}

// ImageHandler proxies poster images. Any failure to obtain a non-empty
// image redirects to a placeholder instead of surfacing an error.
type ImageHandler struct {
	fetcher  *upstream.Fetcher
	selector *headers.Selector
	timeout  time.Duration
	log      *logging.Logger
}

// NewImageHandler creates a new image handler.
func NewImageHandler(fetcher *upstream.Fetcher, selector *headers.Selector, timeout time.Duration, log *logging.Logger) *ImageHandler {
	return &ImageHandler{
		fetcher:  fetcher,
		selector: selector,
		timeout:  timeout,
		log:      log.WithComponent("image-handler"),
	}
}

// Type returns the stream type.
func (h *ImageHandler) Type() types.StreamType {
	return types.StreamTypeImage
}

// Handle fetches a poster image.
func (h *ImageHandler) Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	log := h.log.WithURL(urlutil.Truncate(req.URL, 120))
	fallback := &types.StreamResponse{
		StatusCode:  http.StatusFound,
		RedirectURL: PlaceholderURL(req.Title),
	}

	resp, err := h.fetcher.Fetch(ctx, upstream.OriginRequest{
		URL:     req.URL,
		Header:  h.selector.ImageHeaders(req.URL),
		Timeout: h.timeout,
	})
	if err != nil {
		log.Warn("image fetch failed, serving placeholder", "error", err)
		return fallback, nil
	}

	// Peek so that an empty body still falls back to the placeholder.
	br := bufio.NewReader(resp.Body)
	if _, err := br.Peek(1); err != nil {
		resp.Body.Close()
		log.Warn("empty image response, serving placeholder", "error", err)
		return fallback, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	hdrs := map[string]string{
		"Cache-Control": "public, max-age=86400",
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		hdrs["Content-Length"] = cl
	}

	return &types.StreamResponse{
		ContentType: contentType,
		Body:        readCloser{Reader: br, Closer: resp.Body},
		StatusCode:  http.StatusOK,
		Headers:     hdrs,
	}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

var _ interfaces.StreamHandler = (*ImageHandler)(nil)
