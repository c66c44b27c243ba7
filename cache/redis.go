package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cinema-svc/config"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

func InitRedis(cfg config.Redis, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb, nil
}

// MovieCache stores movie prices and movie documents under movie:<id> keys.
type MovieCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMovieCache(client *redis.Client, ttl time.Duration) *MovieCache {
	return &MovieCache{client: client, ttl: ttl}
}

func (c *MovieCache) GetPrice(ctx context.Context, movieID int64) (decimal.Decimal, error) {
	raw, err := c.client.Get(ctx, priceKey(movieID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, ErrCacheMiss
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis get failed: %w", err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cached price for movie %d is corrupt: %w", movieID, err)
	}
	return price, nil
}

func (c *MovieCache) SetPrice(ctx context.Context, movieID int64, price decimal.Decimal) error {
	if err := c.client.Set(ctx, priceKey(movieID), price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetMovie decodes the cached movie document into dest.
func (c *MovieCache) GetMovie(ctx context.Context, movieID int64, dest any) error {
	data, err := c.client.Get(ctx, movieKey(movieID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal movie failed: %w", err)
	}
	return nil
}

func (c *MovieCache) SetMovie(ctx context.Context, movieID int64, movie any) error {
	data, err := json.Marshal(movie)
	if err != nil {
		return fmt.Errorf("marshal movie failed: %w", err)
	}
	if err := c.client.Set(ctx, movieKey(movieID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate drops everything cached for the movie.
func (c *MovieCache) Invalidate(ctx context.Context, movieID int64) error {
	if err := c.client.Del(ctx, priceKey(movieID), movieKey(movieID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func priceKey(movieID int64) string {
	return fmt.Sprintf("movie:%d:price", movieID)
}

func movieKey(movieID int64) string {
	return fmt.Sprintf("movie:%d", movieID)
}
