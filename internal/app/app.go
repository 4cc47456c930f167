// Package app provides the main application setup and dependency injection.
package app

import (
	"anistream-proxy/pkg/appctx"
	"anistream-proxy/pkg/config"
	"anistream-proxy/pkg/handlers/api"
	"anistream-proxy/pkg/handlers/streams"
	"anistream-proxy/pkg/headers"
	"anistream-proxy/pkg/httpclient"
	"anistream-proxy/pkg/logging"
	"anistream-proxy/pkg/playlist"
	"anistream-proxy/pkg/registry"
	"anistream-proxy/pkg/server"
	"anistream-proxy/pkg/services"
	"anistream-proxy/pkg/upstream"
)

// App is the main application container.
type App struct {
	Ctx            *appctx.Context
	Server         *server.Server
	HTTPClient     *httpclient.Client
	StreamHandlers *registry.StreamHandlerRegistry
}

// New creates and initializes the application.
func New() (*App, error) {
	cfg := config.Load()

	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing anistream proxy",
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"domain_policies", len(cfg.DomainPolicies),
	)

	ctx := appctx.New(cfg, log)

	httpClient := httpclient.New(cfg, log)
	fetcher := upstream.New(httpClient, log).WithTextLimit(cfg.MaxTextBody)

	selector := headers.NewSelector(headers.Options{
		Policies:       cfg.DomainPolicies,
		UserAgent:      cfg.UserAgent,
		DefaultReferer: cfg.DefaultReferer,
	})

	rewriter := playlist.NewRewriter(playlist.Endpoints{PublicBaseURL: cfg.BaseURL}, selector, log)

	streamHandlers := registry.NewStreamHandlerRegistry()
	streams.RegisterAll(streamHandlers, streams.Deps{
		Config:   cfg,
		Fetcher:  fetcher,
		Selector: selector,
		Rewriter: rewriter,
		Log:      log,
	})

	ctx.WithProxyService(services.NewProxyService(log, streamHandlers))

	srv := server.New(cfg, log)
	api.NewHandlers(ctx).RegisterRoutes(srv.Router())

	return &App{
		Ctx:            ctx,
		Server:         srv,
		HTTPClient:     httpClient,
		StreamHandlers: streamHandlers,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting anistream proxy", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}

// Shutdown releases pooled upstream connections.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")
	a.HTTPClient.CloseIdleConnections()
}
