// Command requeue moves task ids stranded on the Redis processing list back
// onto the pending queue. Run it after a crash; tasks that already reached a
// terminal state are skipped by the claim guard when a worker picks them up
// again.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/joho/godotenv"

	"studio/internal/infra"
)

const (
	queueKey      = "studio:tasks"
	processingKey = "studio:tasks:processing"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list stranded ids without moving them")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("requeue: REDIS_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("requeue: failed to connect redis")
	}
	defer rdb.Close()

	ids, err := rdb.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		logger.Fatal().Err(err).Msg("requeue: failed to read processing list")
	}
	if len(ids) == 0 {
		logger.Info().Msg("requeue: processing list is empty")
		return
	}

	for _, id := range ids {
		if *dryRun {
			logger.Info().Str("task_id", id).Msg("requeue: stranded (dry run)")
			continue
		}
		if err := rdb.LPush(ctx, queueKey, id).Err(); err != nil {
			logger.Error().Err(err).Str("task_id", id).Msg("requeue: push failed")
			continue
		}
		if err := rdb.LRem(ctx, processingKey, 1, id).Err(); err != nil {
			logger.Error().Err(err).Str("task_id", id).Msg("requeue: remove failed")
			continue
		}
		logger.Info().Str("task_id", id).Msg("requeue: task re-enqueued")
	}
}
