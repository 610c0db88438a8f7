// Package main is the entry point for the skill run worker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mindloom/mindloom/internal/config"
	"github.com/mindloom/mindloom/internal/executor"
	"github.com/mindloom/mindloom/internal/provider"
	"github.com/mindloom/mindloom/internal/runner"
	"github.com/mindloom/mindloom/internal/syncclient"
	"github.com/mindloom/mindloom/internal/tracing"
)

// docOpener adapts the sync client to the runner's document interface.
type docOpener struct {
	baseURL string
	token   string
	logger  *slog.Logger
}

func (o *docOpener) Open(ctx context.Context, docName string) (runner.DocSession, error) {
	return syncclient.Dial(ctx, o.baseURL, docName, o.token, o.logger)
}

func main() {
	cfg := config.Load()
	logger := setupLogger(cfg)

	logger.Info("starting skillworker",
		slog.String("trigger_queue", cfg.TriggerQueue),
		slog.String("sync_url", cfg.SyncURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:  "mindloom-skillworker",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
		SampleRate:   1.0,
	}, logger)
	if err != nil {
		logger.Error("tracing init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	llm := provider.NewLLMClient(provider.LLMConfig{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		DefaultModel: cfg.DefaultModel,
		RPS:          cfg.ProviderRPS,
		Burst:        cfg.ProviderBurst,
	})
	papers := provider.NewPaperClient(cfg.PaperSearchURL, cfg.PaperQAURL)

	remotes := &syncclient.Dialer{BaseURL: cfg.SyncURL, Logger: logger}
	exec := executor.New(llm, papers, papers, remotes, logger)

	docs := &docOpener{baseURL: cfg.SyncURL, token: cfg.InternalToken, logger: logger}
	buddies := runner.NewHTTPBuddyFetcher(cfg.BackendURL, cfg.InternalToken)

	status, err := runner.NewRedisStatusPublisher(cfg.RedisURL, cfg.StatusChannel)
	if err != nil {
		logger.Error("redis connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer status.Close()

	run := runner.New(docs, buddies, status, exec, cfg.InternalToken, logger)

	queue, err := runner.NewQueue(cfg.RedisURL, cfg.TriggerQueue, cfg.CancelChannel, run, logger)
	if err != nil {
		logger.Error("redis connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer queue.Close()

	// Health and metrics endpoint.
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !queue.Healthy(req.Context()) {
			http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("consuming triggers")
	if err := queue.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("queue consumer failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	srv.Shutdown(shutdownCtx)
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
