package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
	"github.com/odyssey-erp/odyssey-iam/internal/store/memstore"
	"github.com/odyssey-erp/odyssey-iam/internal/store/postgres"
)

// OpenStore connects the store selected by STORE_DRIVER. The returned close
// function is always non-nil. Postgres schemas are migrated when migrate is
// set.
func OpenStore(ctx context.Context, cfg *Config, migrate bool, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return memstore.New(), func() {}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, func() {}, err
	}
	if migrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("schema migrated", slog.Any("versions", applied))
		}
	}
	return postgres.New(pool), pool.Close, nil
}

// OpenRedis connects to REDIS_ADDR. It returns nil without error when Redis
// is not configured.
func OpenRedis(ctx context.Context, cfg *Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	return cache.New(ctx, cfg.RedisAddr)
}

// RedisOpts returns the asynq connection options for REDIS_ADDR.
func (c *Config) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr}
}
