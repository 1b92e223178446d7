package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/dispatch"
	"studio/internal/engine"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/hub"
	"studio/internal/infra"
	"studio/internal/pipeline"
	"studio/internal/providers/analysis"
	"studio/internal/providers/image"
	"studio/internal/registry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := repo.Migrate(ctx, dbpool); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	taskRepo := repo.NewTaskRepository(dbpool)
	ledger := repo.NewCreditLedger(dbpool)
	reg := registry.New(taskRepo, logger)
	events := hub.New(logger)

	analyzer, err := analysis.NewClient(analysis.Options{
		APIKey:  cfg.AnalysisAPIKey,
		BaseURL: cfg.AnalysisBaseURL,
		Model:   cfg.AnalysisModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build analysis client")
	}
	generator, err := image.NewClient(image.Options{
		APIKey: cfg.GenerationAPIKey,
		APIURL: cfg.GenerationAPIURL,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build image client")
	}

	runner := pipeline.NewRunner(engine.New(reg, events, logger), analyzer, generator, logger)

	// The queue carries task ids only; the pool claims and re-reads each
	// task from the registry. Redis makes enqueued work visible across
	// restarts, the in-memory queue is the single-node default.
	var queue dispatch.Queue
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		queue = dispatch.NewRedisQueue(rdb, "studio:tasks", "studio:tasks:processing")
		logger.Info().Msg("dispatch: using redis queue")
	} else {
		queue = dispatch.NewMemoryQueue(0)
		logger.Info().Msg("dispatch: using in-memory queue")
	}

	pool := dispatch.NewPool(queue, reg, runner, events, logger, cfg.Workers)

	runCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		pool.Run(runCtx)
	}()

	app := handlers.NewApp(reg, ledger, pool, events, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	stopWorkers()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not drain before deadline")
	}
	logger.Info().Msg("server stopped")
}
