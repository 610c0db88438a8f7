// Package main is the entry point for the document synchronization server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mindloom/mindloom/internal/archive"
	"github.com/mindloom/mindloom/internal/authz"
	"github.com/mindloom/mindloom/internal/config"
	"github.com/mindloom/mindloom/internal/docstore"
	syncserver "github.com/mindloom/mindloom/internal/sync"
	"github.com/mindloom/mindloom/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := setupLogger(cfg)

	logger.Info("starting syncserver",
		slog.String("port", cfg.Port),
		slog.String("docstore", cfg.DocStoreType),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:  "mindloom-syncserver",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
		SampleRate:   1.0,
	}, logger)
	if err != nil {
		logger.Error("tracing init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	var store docstore.Store
	switch cfg.DocStoreType {
	case "memory":
		store = docstore.NewMemoryStore()
		logger.Info("using in-memory document store")
	default:
		pg, err := docstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database connection failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = pg
		logger.Info("using postgres document store")
	}
	defer store.Close()

	var archiver syncserver.Archiver
	if cfg.ArchiveBucket != "" {
		s3, err := archive.New(archive.Config{
			Endpoint:        cfg.ArchiveEndpoint,
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveAccessKey,
			SecretAccessKey: cfg.ArchiveSecretKey,
			UseSSL:          cfg.ArchiveUseSSL,
		})
		if err != nil {
			logger.Error("archive init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		archiver = s3
		logger.Info("snapshot archive enabled", slog.String("bucket", cfg.ArchiveBucket))
	}

	hub := syncserver.NewHub(syncserver.HubConfig{
		Store:          store,
		Auth:           authz.New(cfg.BackendURL, cfg.InternalToken, logger),
		Archiver:       archiver,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		Debounce:       cfg.PersistDebounce,
		MaxDebounce:    cfg.PersistMaxDebounce,
	})

	r := mux.NewRouter()
	r.HandleFunc("/sync/{doc}", func(w http.ResponseWriter, req *http.Request) {
		hub.ServeDoc(w, req, mux.Vars(req)["doc"])
	})
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	handler := otelhttp.NewHandler(r, "syncserver")

	// No read/write timeouts: sync connections are long-lived websockets.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	hub.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func setupLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
