package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ssctracker/internal/app"
	"ssctracker/internal/cache"
	"ssctracker/internal/db"
	"ssctracker/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	cfg := app.LoadConfig()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		logger.Error("database error", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()
	if err := db.Migrate(ctx, dbConn); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	analyzer, err := app.NewAnalyzer(cfg, logger)
	if err != nil {
		logger.Error("ai provider", "error", err)
		os.Exit(1)
	}
	deps := app.Deps{DB: dbConn, Analyzer: analyzer, Logger: logger}

	images, err := storage.NewMinioStore(storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	}, logger)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		logger.Info("object storage disabled, screenshots will not be kept")
	case err != nil:
		logger.Error("object storage", "error", err)
		os.Exit(1)
	default:
		if err := images.EnsureBucket(ctx); err != nil {
			logger.Error("object storage bucket", "error", err)
			os.Exit(1)
		}
		deps.Images = images
	}

	uploads, err := cache.NewUploadCache(ctx, cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.UploadCacheTTL,
	})
	if err != nil {
		logger.Warn("upload cache disabled", "error", err)
	} else if uploads != nil {
		defer uploads.Close()
		deps.Cache = uploads
	}

	router, err := app.NewRouter(cfg, deps)
	if err != nil {
		logger.Error("router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("ssctracker web listening", "addr", cfg.HTTPAddr, "env", cfg.AppEnv, "ai_provider", cfg.AIProvider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg app.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
