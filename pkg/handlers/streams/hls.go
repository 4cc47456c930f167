// Package streams provides stream handler implementations, one per proxy
// endpoint kind.
package streams

import (
	"context"
	"io"
	"log/slog"
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

// Content types served by the proxy.
const (
	ContentTypeHLS         = "application/vnd.apple.mpegurl"
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeMPEGTS      = "video/mp2t"
)

const noStore = "no-cache, no-store, must-revalidate"

// HLSHandler fetches HLS playlists and rewrites them so that every URI they
// reference routes back through the proxy.
type HLSHandler struct {
	fetcher  *upstream.Fetcher
	selector *headers.Selector
	rewriter *playlist.Rewriter
	timeout  time.Duration
	log      *logging.Logger
}

// NewHLSHandler creates a new manifest handler.
func NewHLSHandler(fetcher *upstream.Fetcher, selector *headers.Selector, rewriter *playlist.Rewriter, timeout time.Duration, log *logging.Logger) *HLSHandler {
	return &HLSHandler{
		fetcher:  fetcher,
		selector: selector,
		rewriter: rewriter,
		timeout:  timeout,
		log:      log.WithComponent("hls-handler"),
	}
}

// Type returns the stream type.
func (h *HLSHandler) Type() types.StreamType {
	return types.StreamTypeManifest
}

// Handle fetches and rewrites an HLS manifest. The whole body is read before
// rewriting, so a timeout never yields a partial playlist.
func (h *HLSHandler) Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	log := h.log.WithURL(urlutil.Truncate(req.URL, 120))
	log.Debug("handling HLS manifest", "referer", req.Referer, "domain", req.Domain)

	start := time.Now()
	body, _, err := h.fetcher.FetchText(ctx, upstream.OriginRequest{
		URL:     req.URL,
		Header:  h.selector.For(req.Domain, req.URL, req.Referer),
		Timeout: h.timeout,
	})
	if err != nil {
		log.Warn("manifest fetch failed", "error", err)
		return nil, err
	}

	rewritten, err := h.rewriter.RewriteWithReferer(body, req.URL, req.Referer)
	if err != nil {
		log.Error("invalid HLS manifest received", "error", err)
		return nil, err
	}

	// Decoding the playlist only feeds this line.
	if log.Enabled(ctx, slog.LevelDebug) {
		info := playlist.Inspect(body)
		log.WithDuration(time.Since(start)).Debug("manifest rewritten",
			"kind", info.Kind,
			"variants", info.Variants,
			"segments", info.Segments,
			"decoded", info.Decoded,
		)
	}

	return &types.StreamResponse{
		ContentType: ContentTypeHLS,
		Body:        io.NopCloser(strings.NewReader(rewritten)),
		StatusCode:  http.StatusOK,
		Headers: map[string]string{
			"Cache-Control": noStore,
		},
	}, nil
}

var _ interfaces.StreamHandler = (*HLSHandler)(nil)
