package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/pkg/cache"
)

// OpenStore builds the order store and, when a cache address is configured,
// puts the Redis read-through cache in front of it. The returned closers must
// run on shutdown.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (order.Store, []func() error, error) {
	var (
		store   order.Store
		closers []func() error
	)

	switch cfg.Store.Driver {
	case config.StoreMemory, "":
		store = order.NewMemoryStore()
	case config.StorePostgres:
		pg, err := order.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		store = pg
		closers = append(closers, pg.Close)
	default:
		return nil, nil, fmt.Errorf("app: unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Cache.RedisAddr == "" {
		return store, closers, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		runClosers(closers)
		return nil, nil, fmt.Errorf("cache: ping %s: %w", cfg.Cache.RedisAddr, err)
	}
	closers = append(closers, client.Close)

	logger.InfoContext(ctx, "order cache enabled", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL.String())
	c := cache.NewRedisCache(client, cfg.Telemetry.ServiceName)
	return order.NewCachedStore(store, c, cfg.Cache.TTL, logger), closers, nil
}

func runClosers(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
