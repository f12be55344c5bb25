package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/ambience_downloader/internal/ambience"
	"github.com/italolelis/ambience_downloader/internal/ambienced"
	"github.com/italolelis/ambience_downloader/internal/config"
	"github.com/italolelis/ambience_downloader/internal/fetch"
	"github.com/italolelis/ambience_downloader/internal/http/rest"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/notifier"
	"github.com/italolelis/ambience_downloader/internal/storage"
	"github.com/italolelis/ambience_downloader/internal/storage/sqlite"
	"github.com/italolelis/ambience_downloader/internal/telemetry"
	"github.com/italolelis/ambience_downloader/internal/thumbnail"
	"github.com/italolelis/ambience_downloader/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("ambience downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	journal := sqlite.NewInstrumentedExportRepository(database, tel)

	// =========================================================================
	// Start Collaborators
	fetcher := transfer.NewInstrumentedFetcher(
		fetch.NewHTTPFetcher(fetch.WithTimeout(cfg.FetchTimeout), fetch.WithMaxBytes(cfg.MaxImageSize)),
		tel,
	)

	resizer, err := thumbnail.New(cfg.ResizeBackend)
	if err != nil {
		return fmt.Errorf("failed to build resizer: %w", err)
	}

	service, closeService := buildAmbienceService(ctx, cfg, tel)
	defer closeService()

	// =========================================================================
	// Start Ambience Manager
	// The manager outlives the signal context; only Shutdown stops its workers.
	manager, err := ambience.New(context.WithoutCancel(ctx), ambience.Options{
		CacheDir:        cfg.CacheDir,
		PicturesDir:     cfg.PicturesDir,
		FullImagePrefix: cfg.FullImagePrefix,
		ThumbnailWidth:  cfg.ThumbnailWidth,
		ThumbnailHeight: cfg.ThumbnailHeight,
		EventBuffer:     cfg.EventBuffer,
		Fetcher:         fetcher,
		Resizer:         resizer,
		Service:         service,
		Journal:         journal,
		SessionID:       storage.GenerateSessionID(),
		Telemetry:       tel,
	})
	if err != nil {
		return fmt.Errorf("failed to start ambience manager: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown ambience manager", "err", err)
		}
	}()

	// =========================================================================
	// Start Notification
	notified := setupNotificationForManager(ctx, manager, cfg)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, manager, tel, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	logger.Info("waiting for requests...",
		"cache_dir", cfg.CacheDir,
		"pictures_dir", cfg.PicturesDir,
		"resize_backend", cfg.ResizeBackend,
	)

	err = g.Wait()

	// The manager's events feed closes on Shutdown, which ends the notifier.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("failed to shutdown ambience manager", "err", shutdownErr)
	}

	<-notified

	return err
}

// buildAmbienceService connects to the theming daemon. Without a session bus
// the service falls back to a no-op so the downloader keeps working.
func buildAmbienceService(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (ambienced.Service, func()) {
	logger := logctx.LoggerFromContext(ctx)

	if !cfg.Ambienced.Enabled {
		logger.Info("ambience service disabled")

		return ambienced.Disabled{}, func() {}
	}

	client, err := ambienced.Dial(ctx, cfg.Ambienced.Service, cfg.Ambienced.Path)
	if err != nil {
		logger.Warn("ambience service unavailable, applying ambiences is disabled", "err", err)

		return ambienced.Disabled{}, func() {}
	}

	return ambienced.NewInstrumentedService(client, tel), func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close session bus", "err", err)
		}
	}
}

// setupNotificationForManager logs every event and forwards it to Discord when
// configured. The returned channel is closed once the events feed is drained.
func setupNotificationForManager(ctx context.Context, manager *ambience.Manager, cfg *config.Config) <-chan struct{} {
	logger := logctx.LoggerFromContext(ctx)
	done := make(chan struct{})

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{
			WebhookURL: cfg.DiscordWebhookURL,
			Client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		}
	}

	notifyCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)

		for event := range manager.Events() {
			if event.Failed() {
				logger.Warn("ambience event", "type", event.Type, "id", event.ID, "name", event.Name, "err", event.Err)
			} else {
				logger.Info("ambience event", "type", event.Type, "id", event.ID, "name", event.Name, "path", event.Path)
			}

			if notif == nil {
				continue
			}

			msg := notifier.Message(event)
			if msg == "" {
				continue
			}

			if notifyErr := notif.Notify(notifyCtx, msg); notifyErr != nil {
				logger.Error("failed to send notification", "type", event.Type, "name", event.Name, "err", notifyErr)
			}
		}
	}()

	return done
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, manager *ambience.Manager, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewAmbienceHandler(cfg.Web.Username, cfg.Web.Password, manager)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "ambience_downloader"),
		// Requests keep the logger but outlive the signal; server.Shutdown drains them.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}
