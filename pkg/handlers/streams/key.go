package streams

import (
	"context"
	"io"
	"net/http"
	"strconv"
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

// KeyHandler streams AES-128 key files.
type KeyHandler struct {
	fetcher  *upstream.Fetcher
	selector *headers.Selector
	timeout  time.Duration
	log      *logging.Logger
}

// NewKeyHandler creates a new key handler.
func NewKeyHandler(fetcher *upstream.Fetcher, selector *headers.Selector, timeout time.Duration, log *logging.Logger) *KeyHandler {
	return &KeyHandler{
		fetcher:  fetcher,
		selector: selector,
		timeout:  timeout,
		log:      log.WithComponent("key-handler"),
	}
}

// Type returns the stream type.
func (h *KeyHandler) Type() types.StreamType {
	return types.StreamTypeKey
}

// Handle fetches a key file. Keys are a few bytes, so the body is read whole
// under the timeout and a slow origin never yields a partial key.
func (h *KeyHandler) Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	body, header, err := h.fetcher.FetchText(ctx, upstream.OriginRequest{
		URL:     req.URL,
		Header:  h.selector.For(req.Domain, req.URL, req.Referer),
		Timeout: h.timeout,
	})
	if err != nil {
		h.log.Warn("key fetch failed", "url", urlutil.Truncate(req.URL, 120), "error", err)
		return nil, err
	}

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = ContentTypeOctetStream
	}

	return &types.StreamResponse{
		ContentType: contentType,
		Body:        io.NopCloser(strings.NewReader(body)),
		StatusCode:  http.StatusOK,
		Headers: map[string]string{
			"Cache-Control":  noStore,
			"Content-Length": strconv.Itoa(len(body)),
		},
	}, nil
}

var _ interfaces.StreamHandler = (*KeyHandler)(nil)
