// Package proxyerr defines the error taxonomy shared by the proxy endpoints
// and maps each error to the HTTP status the player should see.
package proxyerr

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrMissingURL is returned when a proxy request carries no target URL.
var ErrMissingURL = errors.New("URL parameter is required")

// MalformedBaseURLError reports a manifest URL that cannot serve as a base
// for relative resolution. It is never surfaced to the client: the rewriter
// logs it and falls back to naive resolution.
type MalformedBaseURLError struct {
	Base string
	Err  error
}

func (e *MalformedBaseURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed base URL %q: %v", e.Base, e.Err)
	}
	return fmt.Sprintf("malformed base URL %q", e.Base)
}

func (e *MalformedBaseURLError) Unwrap() error { return e.Err }

// InvalidManifestError reports upstream content that is not an HLS playlist.
type InvalidManifestError struct {
	// Prefix holds the first bytes of the rejected body for logging.
	Prefix string
}

func (e *InvalidManifestError) Error() string {
	return fmt.Sprintf("invalid HLS manifest: missing #EXTM3U header (starts with %q)", e.Prefix)
}

// UpstreamStatusError reports a non-2xx answer from the origin.
type UpstreamStatusError struct {
	Code int
	URL  string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

// UpstreamTimeoutError reports an origin that did not answer within the
// request's timeout budget.
type UpstreamTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("upstream request timed out after %s", e.Timeout)
}

// IsTimeout reports whether err is a deadline expiry, either from a context
// or from the network layer.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusCode maps an error to the HTTP status returned to the caller.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrMissingURL) {
		return http.StatusBadRequest
	}

	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}

	var timeoutErr *UpstreamTimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout
	}

	var manifestErr *InvalidManifestError
	if errors.As(err, &manifestErr) {
		return http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
