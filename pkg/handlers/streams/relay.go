package streams

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/interfaces"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/playlist"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/upstream"
	"anistream-proxy/pkg/urlutil"
)

// relayReferer is the referer the relay expects from its clients.
const relayReferer = "https://zoro.to/"

// RelayHandler serves the legacy single-endpoint HLS relay: content is
// fetched through an external CORS relay and playlists are rewritten to keep
// using it.
type RelayHandler struct {
	fetcher     *upstream.Fetcher
	relayPrefix string
	userAgent   string
	timeout     time.Duration
	log         *logging.Logger
}

// NewRelayHandler creates a new relay handler.
func NewRelayHandler(fetcher *upstream.Fetcher, relayPrefix, userAgent string, timeout time.Duration, log *logging.Logger) *RelayHandler {
	if userAgent == "" {
		userAgent = headers.DefaultUserAgent
	}
	return &RelayHandler{
		fetcher:     fetcher,
		relayPrefix: relayPrefix,
		userAgent:   userAgent,
		timeout:     timeout,
		log:         log.WithComponent("relay-handler"),
	}
}

// Type returns the stream type.
func (h *RelayHandler) Type() types.StreamType {
	return types.StreamTypeRelay
}

// Handle relays req.URL. Playlists are read whole and rewritten; anything
// else is streamed through.
func (h *RelayHandler) Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	hdr := make(http.Header)
	hdr.Set("User-Agent", h.userAgent)
	hdr.Set("Referer", relayReferer)
	hdr.Set("Origin", strings.TrimSuffix(relayReferer, "/"))

	resp, err := h.fetcher.Fetch(ctx, upstream.OriginRequest{
		URL:     playlist.WrapRelay(req.URL, h.relayPrefix),
		Header:  hdr,
		Timeout: h.timeout,
	})
	if err != nil {
		h.log.Warn("relay fetch failed", "url", urlutil.Truncate(req.URL, 120), "error", err)
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = ContentTypeHLS
	}

	if !strings.Contains(strings.ToLower(contentType), "mpegurl") && urlutil.PathExt(req.URL) != ".m3u8" {
		return &types.StreamResponse{
			ContentType: contentType,
			Body:        resp.Body,
			StatusCode:  http.StatusOK,
		}, nil
	}

	body, err := h.fetcher.ReadText(resp, h.timeout)
	if err != nil {
		h.log.Warn("relayed playlist unreadable", "url", urlutil.Truncate(req.URL, 120), "error", err)
		return nil, err
	}

	rewritten := playlist.RelayRewrite(body, req.URL, h.relayPrefix)
	h.log.Debug("rewrote relayed playlist", "url", urlutil.Truncate(req.URL, 120))

	return &types.StreamResponse{
		ContentType: contentType,
		Body:        io.NopCloser(strings.NewReader(rewritten)),
		StatusCode:  http.StatusOK,
	}, nil
}

var _ interfaces.StreamHandler = (*RelayHandler)(nil)
