package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"modhub/api/internal/app"
	"modhub/api/internal/artifacts"
	"modhub/api/internal/config"
	"modhub/api/internal/logging"
	"modhub/api/internal/mailer"
	"modhub/api/internal/metrics"
	"modhub/api/internal/ratelimit"
	"modhub/api/internal/releaselog"
	"modhub/api/internal/store"
	"modhub/api/internal/unread"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{Level: "info"})
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	m := metrics.New()
	opts := app.Options{
		Metrics: m,
		Logger:  &logger,
		Limiter: ratelimit.New(ctx,
			ratelimit.PerMinute(cfg.CommentRatePerMin, cfg.CommentRateBurst),
			ratelimit.WithOnDenied(func(key string) {
				logger.Debug().Str("actor_id", key).Msg("comment rate limited")
			}),
		),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := unread.NewRedisCache(cfg.RedisURL, cfg.UnreadCacheTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		opts.Cache = cache
		logger.Info().Msg("using redis for unread counts")
	} else {
		opts.Cache = unread.NewMemoryCache(cfg.UnreadCacheTTL)
		logger.Info().Msg("using in-process cache for unread counts")
	}

	artifactCfg := artifacts.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}
	if artifactCfg.IsConfigured() {
		objects, err := artifacts.NewMinioStore(artifactCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage setup failed")
		}
		if err := objects.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("artifact bucket not reachable")
		}
		opts.Artifacts = objects
	}

	if strings.TrimSpace(cfg.ReleasesDir) != "" {
		if err := os.MkdirAll(cfg.ReleasesDir, 0o755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create releases dir")
		}
		opts.Releases = releaselog.New(cfg.ReleasesDir)
	}

	mail := mailer.NewService(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.PublicBaseURL,
	})
	if mail.IsConfigured() {
		opts.Mailer = mail
	} else {
		logger.Info().Msg("smtp not configured, notification email disabled")
	}

	service := app.New(cfg, dataStore, opts)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, []byte(cfg.TokenSecret))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("modhub API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if err := service.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("service close error")
	}
}

// openStore uses PostgreSQL when DATABASE_URL is set and an in-memory store
// otherwise, which is only suitable for local development.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (app.DataStore, func()) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return store.NewMemoryStore(), func() {}
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }
}
