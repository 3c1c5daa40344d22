package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"konut-dashboard/internal/config"
	"konut-dashboard/internal/dashboard"
	apperrors "konut-dashboard/internal/errors"
	"konut-dashboard/internal/geo"
	"konut-dashboard/internal/middleware"
	"konut-dashboard/internal/observability"
	"konut-dashboard/internal/render"
	"konut-dashboard/internal/server"
	"konut-dashboard/internal/services"
	"konut-dashboard/internal/ui/templates"
)

const renderTimeout = 10 * time.Second

// newDashboardHandler serves the full page for the caller's session.
func newDashboardHandler(ds *services.Dataset, sessions *dashboard.Sessions, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
		defer cancel()
		requestID := observability.GetRequestID(ctx)

		d, err := sessions.Get(ctx, observability.GetSessionID(ctx))
		if err != nil {
			apperrors.WriteError(w, logger, apperrors.InternalWrap(err, "session unavailable"), requestID)
			return
		}

		page := templates.Page{
			Views:   d.View(),
			Years:   ds.Years(),
			Regions: ds.Regions(),
		}

		// The page reflects per-session selections.
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.Dashboard(page).Render(ctx, w); err != nil {
			logger.Error("render dashboard", "error", err, "request_id", requestID)
			http.Error(w, "render error", http.StatusInternalServerError)
		}
	}
}

// purgeSessions drops every dashboard session once the server has
// drained.
func purgeSessions(sessions *dashboard.Sessions, logger *slog.Logger) func(context.Context) error {
	return func(context.Context) error {
		logger.Info("dashboard sessions dropped", "count", sessions.Purge())
		return nil
	}
}

// loadDataset loads the sales CSV once at startup.
func loadDataset(cfg *config.Config, logger *slog.Logger) (*services.Dataset, *services.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Dataset.LoadTimeout)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.Dataset.LoadTimeout}
	opener := services.NewSourceOpener(httpClient, services.S3Options{
		Region:   cfg.Dataset.S3Region,
		Endpoint: cfg.Dataset.S3Endpoint,
	})
	store := services.NewStore(opener, services.StoreConfig{
		CacheDir: cfg.Dataset.CacheDir,
		CacheTTL: cfg.Dataset.CacheTTL,
	}, logger)

	ds, err := store.Load(ctx, cfg.Dataset.Source)
	return ds, store, err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"addr", cfg.Address(),
		"dataset", cfg.Dataset.Source,
		"geo", cfg.Geo.Source,
	)

	shutdownTracing, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	ds, store, err := loadDataset(cfg, logger)
	if err != nil {
		logger.Error("dataset unavailable, refusing to start", "error", err)
		os.Exit(1)
	}

	boundaries := geo.NewProvider(geo.Options{
		Source:       cfg.Geo.Source,
		FetchTimeout: cfg.Geo.FetchTimeout,
		RetryAfter:   cfg.Geo.RetryAfter,
		Client:       &http.Client{Timeout: cfg.Geo.FetchTimeout},
		Logger:       logger,
	})

	deps := dashboard.Deps{
		Dataset:  ds,
		Geo:      boundaries,
		Renderer: render.New(),
		Logger:   logger,
	}
	defaults := dashboard.ResolveDefaults(ds, dashboard.Defaults{
		Year:   cfg.Dashboard.DefaultYear,
		Region: cfg.Dashboard.DefaultRegion,
	})
	sessions := dashboard.NewSessions(cfg.Sessions.MaxSessions, cfg.Sessions.TTL,
		func(ctx context.Context) (*dashboard.Dashboard, error) {
			return dashboard.New(ctx, deps, defaults)
		})

	srv := server.NewServer(server.Deps{
		Dataset:  ds,
		Store:    store,
		Geo:      boundaries,
		Sessions: sessions,
		Logger:   logger,
	}, &server.TemplateHandlers{
		Dashboard: newDashboardHandler(ds, sessions, logger),
	})

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Metrics(),
		middleware.Tracing(),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
		middleware.Session(cfg.Security, cfg.Sessions.TTL),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      middlewareChain(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterShutdownHook("tracing", shutdownTracing)
	gracefulServer.RegisterShutdownHook("sessions", purgeSessions(sessions, logger))

	if err := gracefulServer.ListenAndServe(context.Background()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
