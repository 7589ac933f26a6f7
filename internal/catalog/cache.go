package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
)

const keyPrefix = "uticoin:product-rewards:"

// Lookup описывает источник процентов товара, который оборачивает кэш.
type Lookup interface {
	GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error)
}

// NewRedisClient подключается к Redis по URL. Пустой URL означает работу без кэша.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Cache кэширует проценты товаров в Redis. Ошибки Redis не прерывают запрос: значение берётся из источника.
type Cache struct {
	rdb    *redis.Client
	next   Lookup
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache создаёт кэш поверх источника. При rdb == nil все запросы уходят напрямую в источник.
func NewCache(rdb *redis.Client, next Lookup, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

// GetProductRewardAttributes возвращает проценты товара из кэша или из источника.
func (c *Cache) GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error) {
	if c.rdb == nil {
		return c.next.GetProductRewardAttributes(ctx, productID)
	}

	raw, err := c.rdb.Get(ctx, keyPrefix+productID).Bytes()
	switch {
	case err == nil:
		var a model.ProductRewardAttributes
		if jsonErr := json.Unmarshal(raw, &a); jsonErr == nil {
			return a, nil
		}
		c.logger.Warn("broken product rewards cache entry", zap.String("product_id", productID))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("product rewards cache read failed", zap.String("product_id", productID), zap.Error(err))
	}

	a, err := c.next.GetProductRewardAttributes(ctx, productID)
	if err != nil {
		return a, err
	}

	if raw, err := json.Marshal(a); err == nil {
		if err := c.rdb.Set(ctx, keyPrefix+productID, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("product rewards cache write failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return a, nil
}

// Invalidate удаляет закэшированные проценты товара.
func (c *Cache) Invalidate(ctx context.Context, productID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, keyPrefix+productID).Err()
}
