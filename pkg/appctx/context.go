// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"anistream-proxy/pkg/config"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config       *config.Config
	Log          *logging.Logger
	ProxyService *services.ProxyService
	// BaseURL is the public origin of the proxy; empty when proxy URLs are
	// served root-relative.
	BaseURL string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: cfg.BaseURL,
	}
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.ProxyService = ps
	return c
}
