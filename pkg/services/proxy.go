// Package services dispatches proxy requests to the registered stream handlers.
package services

import (
	"context"
	"fmt"
	"time"

	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/registry"
	"anistream-proxy/pkg/types"
	"anistream-proxy/pkg/urlutil"
)

// ProxyService handles stream proxying.
type ProxyService struct {
	log            *logging.Logger
	streamHandlers *registry.StreamHandlerRegistry
}

// NewProxyService creates a new proxy service.
func NewProxyService(log *logging.Logger, streamHandlers *registry.StreamHandlerRegistry) *ProxyService {
	return &ProxyService{
		log:            log.WithComponent("proxy-service"),
		streamHandlers: streamHandlers,
	}
}

// Handle routes req to the handler registered for t.
func (s *ProxyService) Handle(ctx context.Context, t types.StreamType, req *types.StreamRequest) (*types.StreamResponse, error) {
	handler := s.streamHandlers.Get(t)
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for %q", t)
	}

	start := time.Now()
	resp, err := handler.Handle(ctx, req)
	logging.FromContext(ctx, s.log).Debug("handled proxy request",
		"type", t,
		"url", urlutil.Truncate(req.URL, 120),
		"duration_ms", time.Since(start).Milliseconds(),
		"ok", err == nil,
	)
	return resp, err
}

// Types lists the endpoint kinds the service can serve.
func (s *ProxyService) Types() []types.StreamType {
	return s.streamHandlers.Types()
}
