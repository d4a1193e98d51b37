package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wellfed/api/internal/app"
	"wellfed/api/internal/config"
	"wellfed/api/internal/email"
	"wellfed/api/internal/export"
	"wellfed/api/internal/gemini"
	"wellfed/api/internal/history"
	"wellfed/api/internal/logging"
	"wellfed/api/internal/schema"
	"wellfed/api/internal/search"
	"wellfed/api/internal/store"
	"wellfed/api/internal/summary"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	formSchema := schema.Default()
	if strings.TrimSpace(cfg.FormSchemaPath) != "" {
		loaded, err := schema.LoadFile(cfg.FormSchemaPath)
		if err != nil {
			return fmt.Errorf("load form schema: %w", err)
		}
		formSchema = loaded
	}

	deps := app.Deps{Schema: formSchema, Logger: logger}
	var pgfts *search.PgFTS

	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; records are lost on restart")
		deps.Store = store.NewMemoryStore()
	case "redis":
		redisStore, err := store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Store = redisStore
		deps.Ping = redisStore.Ping
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		migrations := store.Migrations()
		if cfg.MigrationsDir != "" {
			migrations = os.DirFS(cfg.MigrationsDir)
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		deps.Store = store.NewPostgresStore(db, cfg.DatabaseURL)
		deps.Ping = db.PingContext
		pgfts = search.NewPgFTS(db)
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	generator, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	deps.Generator = generator

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meiliClient.Close()
		index = meiliClient
	}
	var fallback search.Searcher
	if pgfts != nil {
		fallback = pgfts
	}
	deps.Search = search.NewService(index, fallback, logger.Named("search"))

	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
		deps.History = history.New(cfg.HistoryDir)
	}

	var archive export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchive, err := export.NewMinioArchive(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger.Named("archive"))
		if err != nil {
			logger.Warn("report archive disabled", zap.Error(err))
		} else {
			archive = minioArchive
		}
	}
	deps.Export = export.NewService(nil, archive, logger.Named("export"))

	deps.Email = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	defer service.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Synchronous summaries and PDF rendering can take a while.
		WriteTimeout: cfg.GeminiTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Well Fed API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return service.RunJanitor(gctx, cfg.SessionIdleTTL)
	})
	if pgfts != nil {
		g.Go(func() error {
			deps.Search.Reindex(gctx, pgfts.LoadAllRecords)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}

func newGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (summary.Generator, error) {
	geminiConfig := gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Timeout: cfg.GeminiTimeout,
	}
	switch cfg.GeminiBackend {
	case "", "rest":
		return gemini.NewClient(geminiConfig, logger.Named("gemini")), nil
	case "sdk":
		client, err := gemini.NewSDKClient(ctx, geminiConfig, logger.Named("gemini"))
		if errors.Is(err, gemini.ErrNoAPIKey) {
			logger.Warn("GEMINI_API_KEY not set; summaries will fail until it is")
			return gemini.NewClient(geminiConfig, logger.Named("gemini")), nil
		}
		if err != nil {
			return nil, fmt.Errorf("gemini sdk client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown GEMINI_BACKEND %q", cfg.GeminiBackend)
	}
}
