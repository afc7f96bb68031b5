package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"dietchat/internal/api"
	"dietchat/internal/auth"
	"dietchat/internal/config"
	"dietchat/internal/logging"
	"dietchat/internal/ratelimit"
	"dietchat/internal/redis"
	"dietchat/internal/relay"
	"dietchat/internal/service/account"
	"dietchat/internal/service/chat"
	"dietchat/internal/service/conversation"
	"dietchat/internal/service/extract"
	"dietchat/internal/service/llm"
	"dietchat/internal/service/search"
	"dietchat/internal/storage"
	"dietchat/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dbType := cfg.BasicConfig.DatabaseType
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", dbType)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(os.Stderr, cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat, "dietchat")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := cfg.BasicConfig.DatabaseType
	logger.Info("opening database", "type", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	httpClient := llm.NewHTTPClient(cfg.Provider)
	chatModel, err := llm.NewChatModel(ctx, cfg.Provider, cfg.Provider.Model, httpClient)
	if err != nil {
		return err
	}
	extractModel := chatModel
	if cfg.Provider.ExtractModel != cfg.Provider.Model {
		if extractModel, err = llm.NewChatModel(ctx, cfg.Provider, cfg.Provider.ExtractModel, httpClient); err != nil {
			return err
		}
	}

	provider, err := search.NewProvider(ctx, cfg.Search, &http.Client{Timeout: cfg.Search.Timeout})
	if err != nil {
		return fmt.Errorf("init search: %w", err)
	}
	searchOpts := []search.Option{search.WithTimeout(cfg.Search.Timeout), search.WithLogger(logger)}
	if rdb != nil {
		searchOpts = append(searchOpts, search.WithCache(search.NewRedisCache(rdb, cfg.Search.CacheTTL)))
	}
	augmenter := search.NewAugmenter(provider, searchOpts...)

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.BasicConfig.RateLimit, cfg.BasicConfig.RateWindow)
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.BasicConfig.RateLimit, cfg.BasicConfig.RateWindow)
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  1,
		MaxWorkers:  cfg.BasicConfig.Workers,
		QueueSize:   cfg.BasicConfig.WorkerQueueSize,
		IdleTimeout: time.Minute,
	})
	defer dispatcher.Stop()

	store := conversation.NewStore(db, conversation.OwnershipPolicy(cfg.Conversation.OwnershipPolicy), logger)
	pipeline := chat.NewPipeline(
		store,
		augmenter,
		llm.NewClient(chatModel, llm.ChatOptions),
		relay.New(cfg.Conversation.KeepAlive, logger),
		chat.Options{PersistTimeout: cfg.Conversation.PersistTimeout, Logger: logger},
	)
	handler := api.NewHandler(api.Deps{
		Accounts:      account.NewService(db),
		Auth:          auth.NewService(db, rdb, cfg.BasicConfig.TokenTTL),
		Conversations: store,
		Pipeline:      pipeline,
		Extractor:     extract.NewExtractor(llm.NewClient(extractModel, llm.ExtractOptions), cfg.Provider.ExtractTimeout, logger),
		Search:        augmenter,
		Workers:       dispatcher,
		Limiter:       limiter,
		ModelName:     cfg.Provider.Model,
		HistoryLimit:  cfg.Conversation.HistoryLimit,
		Logger:        logger,
	})

	router := gin.New()
	router.Use(gin.Recovery(), handler.RequestLogger())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "provider", cfg.Provider.Name, "model", cfg.Provider.Model, "search", cfg.Search.Provider)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
