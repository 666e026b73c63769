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

	"github.com/intentql/intentql/internal/api"
	"github.com/intentql/intentql/internal/auth"
	"github.com/intentql/intentql/internal/bind"
	"github.com/intentql/intentql/internal/config"
	"github.com/intentql/intentql/internal/corpus/sqlstore"
	"github.com/intentql/intentql/internal/embedding"
	"github.com/intentql/intentql/internal/index"
	"github.com/intentql/intentql/internal/narrate"
	"github.com/intentql/intentql/internal/observability"
	"github.com/intentql/intentql/internal/retrieve"
	"github.com/intentql/intentql/internal/stream"
)

func main() {
	cfg, err := config.LoadFromEnv("intentql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	storeDB, err := sqlstore.Open(context.Background(), sqlstore.DBConfig{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open corpus store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = storeDB.Close() }()

	repo := sqlstore.NewRepository(storeDB)

	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize embedding provider", slog.Any("error", err))
		os.Exit(1)
	}

	handle := &index.Handle{}
	builder := &index.Builder{Store: repo, Logger: logger}

	// Build the index up front so the service is useful as soon as it is
	// ready. An empty corpus is not fatal: templates can be seeded later
	// and the index rebuilt over the API.
	if snapshot, err := builder.Rebuild(context.Background()); err != nil {
		logger.Warn("initial index build skipped", slog.Any("error", err))
	} else {
		handle.Swap(snapshot)
	}

	var narrator narrate.Narrator
	if cfg.Narration.Enabled {
		narrator, err = narrate.NewChatNarrator(narrate.ChatConfig{
			BaseURL:     cfg.Narration.BaseURL,
			APIKey:      cfg.Narration.APIKey,
			Model:       cfg.Narration.Model,
			Temperature: cfg.Narration.Temperature,
			Timeout:     cfg.Narration.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize narrator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	deps := api.Dependencies{
		Logger: logger,
		Retriever: &retrieve.Retriever{
			Provider: provider,
			Index:    handle,
			SearchK:  cfg.Retrieval.SearchK,
		},
		Binder: bind.NewBinder(),
		Streamer: &stream.Engine{
			DB:           storeDB,
			Placeholder:  stream.StyleForDriver(sqlstore.DriverForDSN(cfg.Store.DSN)),
			PreviewBytes: cfg.Profiling.BlobPreviewBytes,
		},
		Rebuilder:   builder,
		IndexHandle: handle,
		Feedback:    repo,
		Narrator:    narrator,
		Readiness: api.CombineReadinessChecks(
			api.CheckStore(repo),
			api.CheckIndex(handle),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
