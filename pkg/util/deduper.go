package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SETNX 的消费去重：同一 handler + key 在 ttl 内只处理一次
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduper logger 可以为 nil
func NewDeduper(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// FormatDedupKey 去重锁的 Redis key
func FormatDedupKey(handler, key string) string {
	return "dedup:" + handler + ":" + key
}

// AcquireOnce 首次处理返回 true，重复事件返回 false。
// Redis 不可用时放行，由下游的幂等保证兜底。
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	dedupKey := FormatDedupKey(handler, key)

	ok, err := d.rdb.SetNX(ctx, dedupKey, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("dedup_key", dedupKey),
		)
	}
	return ok
}

// Release 释放去重锁，失败的处理可以被重新投递
func (d *Deduper) Release(ctx context.Context, handler, key string) error {
	return d.rdb.Del(ctx, FormatDedupKey(handler, key)).Err()
}
