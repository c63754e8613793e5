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

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/api/uistatic"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/chat"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	s3store "github.com/askdb/askdb/internal/storage/s3"
	"github.com/askdb/askdb/internal/transcript"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load .env file", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, agentErr := buildAgent(ctx, cfg)
	if agentErr != nil {
		if !errors.Is(agentErr, nl2sql.ErrMissingCredential) {
			logger.Error("failed to initialize llm agent", slog.Any("error", agentErr))
			os.Exit(1)
		}
		logger.Warn("llm credential missing; questions will be rejected until ASKDB_AI_API_KEY is set",
			slog.String("provider", cfg.AI.Provider),
		)
	}

	pool := database.NewPool(database.PoolConfig{
		Expiry:       database.ExpiryPolicy{TTL: cfg.Database.PoolTTL},
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxOpenConns,
		PingTimeout:  5 * time.Second,
	})
	defer func() { _ = pool.Close() }()

	service, err := chat.NewService(chat.Options{
		Agent:    agent,
		AgentErr: agentErr,
		Sessions: transcript.NewRegistry(transcript.RegistryConfig{
			Greeting: cfg.Session.Greeting,
			IdleTTL:  cfg.Session.IdleTTL,
		}),
		Connector: &chat.PoolConnector{
			Pool:      pool,
			LocalPath: cfg.Database.LocalPath,
			Defaults: chat.ConnectionSettings{
				Mode:     string(cfg.Database.Mode),
				Driver:   cfg.Database.RemoteDriver,
				Host:     cfg.Database.RemoteHost,
				User:     cfg.Database.RemoteUser,
				Password: cfg.Database.RemotePassword,
				Database: cfg.Database.RemoteName,
			},
		},
		Logger:           logger,
		RowLimit:         cfg.Database.RowLimit,
		SchemaSampleRows: cfg.UI.SchemaSampleRows,
	})
	if err != nil {
		logger.Error("failed to initialize chat service", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger: logger,
		Chat:   service,
		UI:     uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			service.Ready,
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: 5 * time.Second,
	}
	if cfg.Export.ArchiveEnabled {
		objectStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Archive = export.NewArchiver(objectStore)
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("db_mode", string(cfg.Database.Mode)),
			slog.String("llm_provider", cfg.AI.Provider),
		)
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

func buildAgent(ctx context.Context, cfg config.Config) (nl2sql.Agent, error) {
	switch cfg.AI.Provider {
	case "ark":
		agent, err := nl2sql.NewArkAgent(ctx, nl2sql.ArkConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return agent, nil
	default:
		agent, err := nl2sql.NewOpenAIAgent(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
}
