// Package upstream performs the origin fetches behind every proxy endpoint.
//
// Each fetch runs under its own timeout derived from the caller's context.
// Failures are mapped onto the proxyerr taxonomy so handlers can translate
// them into HTTP statuses in one place.
package upstream

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"anistream-proxy/pkg/interfaces"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/proxyerr"
	"anistream-proxy/pkg/urlutil"
)

// DefaultTextLimit bounds manifests and JSON bodies read into memory.
const DefaultTextLimit = 32 << 20

// OriginRequest describes one outbound fetch.
type OriginRequest struct {
	URL    string
	Header http.Header
	// Timeout bounds the whole exchange, body included. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration
	// ResponseTimeout bounds only the wait for the response headers; the
	// body may then stream for as long as the caller keeps reading.
	ResponseTimeout time.Duration
	// Range is forwarded verbatim when set.
	Range string
}

// Response is a successful (2xx) origin response. Closing Body releases the
// request's timeout.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	URL        string
}

// Fetcher issues origin requests.
type Fetcher struct {
	client    interfaces.HTTPClient
	textLimit int64
	log       *logging.Logger
}

// New creates a fetcher on top of client.
func New(client interfaces.HTTPClient, log *logging.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		textLimit: DefaultTextLimit,
		log:       log.WithComponent("upstream"),
	}
}

// WithTextLimit sets the largest body ReadText accepts. Non-positive values
// keep the current limit.
func (f *Fetcher) WithTextLimit(n int64) *Fetcher {
	if n > 0 {
		f.textLimit = n
	}
	return f
}

// Fetch performs a GET for req. A non-2xx answer is returned as
// *proxyerr.UpstreamStatusError with the body discarded; an expired timeout
// of either kind as *proxyerr.UpstreamTimeoutError.
func (f *Fetcher) Fetch(ctx context.Context, req OriginRequest) (*Response, error) {
	if req.URL == "" {
		return nil, proxyerr.ErrMissingURL
	}

	var cancel context.CancelFunc
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "build request for %s", urlutil.Truncate(req.URL, 120))
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Range != "" {
		httpReq.Header.Set("Range", req.Range)
	}

	var headerTimer *time.Timer
	if req.ResponseTimeout > 0 {
		headerTimer = time.AfterFunc(req.ResponseTimeout, cancel)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	// Stop reports false once the timer has fired and cancelled ctx.
	headersLate := headerTimer != nil && !headerTimer.Stop()
	if headersLate {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, &proxyerr.UpstreamTimeoutError{URL: req.URL, Timeout: req.ResponseTimeout}
	}
	if err != nil {
		cancel()
		return nil, f.mapError(ctx, req, err)
	}

	f.log.Debug("upstream response",
		"url", urlutil.Truncate(req.URL, 120),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		return nil, &proxyerr.UpstreamStatusError{Code: resp.StatusCode, URL: req.URL}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelBody{ReadCloser: resp.Body, ctx: ctx, cancel: cancel},
		URL:        req.URL,
	}, nil
}

// FetchText performs Fetch and reads the whole body with ReadText.
func (f *Fetcher) FetchText(ctx context.Context, req OriginRequest) (string, http.Header, error) {
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return "", nil, err
	}
	body, err := f.ReadText(resp, req.Timeout)
	if err != nil {
		return "", nil, err
	}
	return body, resp.Header, nil
}

// ReadText reads and closes the body of resp. A body larger than the text
// limit is an error rather than a silently truncated document. A timeout
// that fires while the body is being read is reported like one that fires
// before the response headers arrive.
func (f *Fetcher) ReadText(resp *Response, timeout time.Duration) (string, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.textLimit+1))
	if err != nil {
		if proxyerr.IsTimeout(err) || expired(resp.Body) {
			return "", &proxyerr.UpstreamTimeoutError{URL: resp.URL, Timeout: timeout}
		}
		return "", errors.Wrapf(err, "read body of %s", urlutil.Truncate(resp.URL, 120))
	}
	if int64(len(body)) > f.textLimit {
		return "", errors.Errorf("body of %s exceeds %d bytes", urlutil.Truncate(resp.URL, 120), f.textLimit)
	}
	return string(body), nil
}

func (f *Fetcher) mapError(ctx context.Context, req OriginRequest, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || proxyerr.IsTimeout(err) {
		return &proxyerr.UpstreamTimeoutError{URL: req.URL, Timeout: req.Timeout}
	}
	return errors.Wrapf(err, "fetch %s", urlutil.Truncate(req.URL, 120))
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
}

func expired(body io.ReadCloser) bool {
	cb, ok := body.(*cancelBody)
	return ok && errors.Is(cb.ctx.Err(), context.DeadlineExceeded)
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
