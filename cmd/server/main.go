package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/api"
	"github.com/tendant/simple-h5p/pkg/h5p/config"
	"github.com/tendant/simple-h5p/pkg/h5p/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("Invalid server configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	store, closeStore, err := cfg.BuildStore(ctx)
	if err != nil {
		slog.Error("Failed to initialize store", "db_type", cfg.DB.Type, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	blobs, err := cfg.BuildBlobStore(ctx)
	if err != nil {
		slog.Error("Failed to initialize storage backend", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}

	sessionStore, closeSessions, err := cfg.BuildSessionStore(ctx)
	if err != nil {
		slog.Error("Failed to initialize session store", "backend", cfg.Session.Backend, "err", err)
		os.Exit(1)
	}
	defer closeSessions()

	contents, err := h5p.NewContentRepository(h5p.WithStore(store), h5p.WithBlobStore(blobs))
	if err != nil {
		slog.Error("Failed to create content repository", "err", err)
		os.Exit(1)
	}
	service := h5p.NewHeadlessService(store, cfg.PlayerConfig())
	sessions := session.NewManager(sessionStore, cfg.SessionOptions()...)
	contentHandler := api.NewContentHandler(contents, service, blobs, sessions, cfg.HandlerConfig())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := api.NewPrometheusMetrics(registry)
	if err != nil {
		slog.Error("Failed to register metrics", "err", err)
		os.Exit(1)
	}

	tokenAuth := jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server.R.Route("/api", func(r chi.Router) {
		r.Use(api.MetricsMiddleware(metrics))

		r.Group(func(r chi.Router) {
			r.Use(api.AdminAuth(tokenAuth)...)
			r.Mount("/admin/hh5p", contentHandler.AdminRoutes())
		})

		r.Mount("/hh5p", contentHandler.PublicRoutes())

		if cfg.ApiKeySHA256 == "" {
			slog.Info("API_KEY_SHA256 not set, maintenance routes disabled")
			return
		}
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": cfg.ApiKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware)
			r.Mount("/maintenance/hh5p", contentHandler.MaintenanceRoutes())
		})
	})

	slog.Info("H5P content server configured",
		"environment", cfg.Environment,
		"db_type", cfg.DB.Type,
		"storage", cfg.Storage.Backend,
		"sessions", cfg.Session.Backend)

	// Start server
	server.Run()
}
