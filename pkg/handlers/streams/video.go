package streams

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/interfaces"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/upstream"
	"anistream-proxy/pkg/urlutil"
)

// VideoHandler streams media segments, honoring byte ranges.
type VideoHandler struct {
	fetcher  *upstream.Fetcher
	selector *headers.Selector
	timeout  time.Duration
	log      *logging.Logger
}

// NewVideoHandler creates a new segment handler.
func NewVideoHandler(fetcher *upstream.Fetcher, selector *headers.Selector, timeout time.Duration, log *logging.Logger) *VideoHandler {
	return &VideoHandler{
		fetcher:  fetcher,
		selector: selector,
		timeout:  timeout,
		log:      log.WithComponent("video-handler"),
	}
}

// Type returns the stream type.
func (h *VideoHandler) Type() types.StreamType {
	return types.StreamTypeVideo
}

// Handle proxies a segment. The timeout covers only the wait for the origin's
// response headers, so long ranged movie transfers are not cut off. The
// player's Range header is forwarded verbatim; a 206 answer is passed
// through only when the player asked for a range.
// An upstream error status is answered with the same status and a generic
// body rather than an error, so players see the origin's verdict.
func (h *VideoHandler) Handle(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	log := h.log.WithURL(urlutil.Truncate(req.URL, 120))

	resp, err := h.fetcher.Fetch(ctx, upstream.OriginRequest{
		URL:             req.URL,
		Header:          h.selector.For(req.Domain, req.URL, req.Referer),
		ResponseTimeout: h.timeout,
		Range:           req.Range,
	})
	if err != nil {
		var statusErr *proxyerr.UpstreamStatusError
		if errors.As(err, &statusErr) {
			log.Warn("segment fetch rejected", "status", statusErr.Code)
			return &types.StreamResponse{
				ContentType: ContentTypeOctetStream,
				Body:        io.NopCloser(strings.NewReader(fmt.Sprintf("Failed to fetch video segment: %d", statusErr.Code))),
				StatusCode:  statusErr.Code,
				Headers:     map[string]string{"Cache-Control": noStore},
			}, nil
		}
		log.Warn("segment fetch failed", "error", err)
		return nil, err
	}

	hdrs := map[string]string{
		"Cache-Control": noStore,
		"Accept-Ranges": "bytes",
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		hdrs["Content-Length"] = cl
	}

	status := http.StatusOK
	if req.Range != "" {
		status = resp.StatusCode
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			hdrs["Content-Range"] = cr
		}
	}

	return &types.StreamResponse{
		ContentType: segmentContentType(req.URL, resp.Header.Get("Content-Type")),
		Body:        resp.Body,
		StatusCode:  status,
		Headers:     hdrs,
	}, nil
}

// segmentContentType picks the content type for a segment. Some CDNs serve
// transport-stream segments disguised as .jpg images; players need them
// labelled as MPEG-TS.
func segmentContentType(targetURL, upstreamType string) string {
	ext := urlutil.PathExt(targetURL)
	if ext == ".jpg" {
		return ContentTypeMPEGTS
	}
	if upstreamType != "" {
		return upstreamType
	}

	contentTypes := map[string]string{
		".ts":  ContentTypeMPEGTS,
		".m4s": "video/iso.segment",
		".mp4": "video/mp4",
		".m4a": "audio/mp4",
		".aac": "audio/aac",
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return ContentTypeOctetStream
}

var _ interfaces.StreamHandler = (*VideoHandler)(nil)
