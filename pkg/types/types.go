// Package types defines core domain types used throughout the application.
package types

import (
	"io"
)

// StreamType identifies the proxy endpoint kind a handler serves.
type StreamType string

const (
	StreamTypeManifest StreamType = "manifest"
	StreamTypeKey      StreamType = "key"
	StreamTypeVideo    StreamType = "video"
	StreamTypeImage    StreamType = "image"
	StreamTypeRelay    StreamType = "relay"
	StreamTypeJSON     StreamType = "json"
)

// StreamRequest represents an incoming proxy request, decoded from the
// endpoint's query string and headers.
type StreamRequest struct {
	// URL is the absolute origin URL to fetch.
	URL string
	// Referer overrides the referer sent upstream when the domain policy
	// allows it.
	Referer string
	// Domain names a header policy to apply regardless of the target host.
	Domain string
	// Range is the player's Range header, forwarded verbatim.
	Range string
	// Title labels the placeholder shown when a poster cannot be fetched.
	Title string
}

// StreamResponse represents the result of stream processing.
type StreamResponse struct {
	ContentType string
	Headers     map[string]string
	Body        io.ReadCloser
	StatusCode  int
	RedirectURL string // If non-empty, perform redirect instead
}
