package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BalanceCache is a read-through accelerator only. It is invalidated, never
// updated in place, after every committed mutation; the authoritative commit
// decision is always against the store.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
	lg  *logging.ZapLogger
}

const balanceKeyPrefix = "settlement:balance:"

func NewBalanceCache(lc fx.Lifecycle, cfg *config.Config, lg *logging.ZapLogger) *BalanceCache {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddress,
		DB:   cfg.RedisDB,
	})

	c := &BalanceCache{rdb: rdb, ttl: time.Minute, lg: lg}

	lc.Append(
		fx.Hook{
			OnStart: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
			OnStop: func(ctx context.Context) error {
				return rdb.Close()
			},
		},
	)

	return c
}

func (c *BalanceCache) Get(ctx context.Context, accountID string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, balanceKeyPrefix+accountID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}

		return 0, false, err
	}

	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}

	return balance, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, accountID string, balance int64) error {
	return c.rdb.Set(ctx, balanceKeyPrefix+accountID, strconv.FormatInt(balance, 10), c.ttl).Err()
}

// Invalidate drops the cached balances. Failures are logged and swallowed:
// a stale cache entry expires on its own and never affects settlement
// correctness.
func (c *BalanceCache) Invalidate(ctx context.Context, accountIDs ...string) {
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, balanceKeyPrefix+id)
	}

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.lg.WarnCtx(ctx, "balance cache invalidation failed", zap.Error(err), zap.Strings("accounts", accountIDs))
	}
}
