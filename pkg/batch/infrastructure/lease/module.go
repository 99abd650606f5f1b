package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

const pingTimeout = 5 * time.Second

// NewFromConfig returns a RedisLocker when backfill.scheduler.lease is enabled and a
// LocalLocker otherwise.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) (Locker, error) {
	lcfg := cfg.Backfill.Scheduler.Lease
	if !lcfg.Enabled {
		return NewLocalLocker(), nil
	}
	rc := cfg.Backfill.Redis
	if rc.Address == "" {
		return nil, fmt.Errorf("lease: backfill.redis.address is required when the lease is enabled")
	}
	client := redis.NewClient(&redis.Options{Addr: rc.Address, Password: rc.Password, DB: rc.DB})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lease: redis ping failed: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	logger.Infof("Using Redis lease at %s (ttl: %s).", rc.Address, lcfg.TTL)
	return NewRedisLocker(client, lcfg.KeyPrefix, lcfg.TTL), nil
}

// Module provides the Locker.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
