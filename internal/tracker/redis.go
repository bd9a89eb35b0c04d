// Package tracker mirrors the IDs and triggers of live protective orders
// into Redis so operator tooling can inspect them without exchange
// credentials. The exchange remains the source of truth; losing Redis loses
// nothing but convenience.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/weex"
)

const keyTTL = 48 * time.Hour

type RedisTracker struct {
	client *redis.Client
	logger *logging.Logger
}

func NewRedisTracker(ctx context.Context, cfg config.RedisConfig) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisTracker{
		client: client,
		logger: logging.Default().WithComponent("tracker"),
	}, nil
}

func key(symbol string, orderID int64) string {
	return fmt.Sprintf("protective:%s:%d", symbol, orderID)
}

// Track records one protective order as a hash keyed by symbol and order ID.
func (t *RedisTracker) Track(ctx context.Context, symbol string, orderID int64, planType weex.PlanType, trigger float64) {
	k := key(symbol, orderID)
	pipe := t.client.Pipeline()
	pipe.HSet(ctx, k,
		"plan_type", string(planType),
		"trigger", trigger,
		"tracked_at", time.Now().UTC().Format(time.RFC3339),
	)
	pipe.Expire(ctx, k, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("Failed to track protective order", "symbol", symbol, "order_id", orderID, "error", err)
	}
}

// Forget drops a canceled or filled protective order.
func (t *RedisTracker) Forget(ctx context.Context, symbol string, orderID int64) {
	if err := t.client.Del(ctx, key(symbol, orderID)).Err(); err != nil {
		t.logger.Warn("Failed to forget protective order", "symbol", symbol, "order_id", orderID, "error", err)
	}
}

// TrackedOrders lists the protective orders currently mirrored for a symbol.
func (t *RedisTracker) TrackedOrders(ctx context.Context, symbol string) (map[string]map[string]string, error) {
	keys, err := t.client.Keys(ctx, fmt.Sprintf("protective:%s:*", symbol)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(keys))
	for _, k := range keys {
		fields, err := t.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		out[k] = fields
	}
	return out, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
