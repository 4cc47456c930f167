package streams

import (
	"anistream-proxy/pkg/config"
	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/playlist"
	"anistream-proxy/pkg/registry"
	"anistream-proxy/pkg/upstream"
)

// Deps are the shared collaborators of the stream handlers.
type Deps struct {
	Config   *config.Config
	Fetcher  *upstream.Fetcher
	Selector *headers.Selector
	Rewriter *playlist.Rewriter
	Log      *logging.Logger
}

// RegisterAll registers one handler per proxy endpoint kind.
// Add new stream handlers here by:
// 1. Creating a new handler in pkg/handlers/streams/
// 2. Registering it below
func RegisterAll(reg *registry.StreamHandlerRegistry, d Deps) {
	cfg := d.Config

	reg.Register(NewHLSHandler(d.Fetcher, d.Selector, d.Rewriter, cfg.ManifestTimeout, d.Log))
	reg.Register(NewKeyHandler(d.Fetcher, d.Selector, cfg.SegmentTimeout, d.Log))
	reg.Register(NewVideoHandler(d.Fetcher, d.Selector, cfg.SegmentTimeout, d.Log))
	reg.Register(NewImageHandler(d.Fetcher, d.Selector, cfg.ImageTimeout, d.Log))
	reg.Register(NewRelayHandler(d.Fetcher, cfg.RelayURL, cfg.UserAgent, cfg.ManifestTimeout, d.Log))
	reg.Register(NewJSONHandler(d.Fetcher, cfg.UserAgent, cfg.SegmentTimeout, d.Log))

	d.Log.Info("registered stream handlers", "count", len(reg.All()))
}
