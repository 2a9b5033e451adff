package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/agrosolutions/services/alerts/config"
	"example.com/agrosolutions/services/alerts/internal/models"
)

// RedisCache is the fast path for alert cooldown checks. When disabled or
// cold the caller falls back to the alert store query.
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Enabled reports whether the cache is backed by a live connection
func (c *RedisCache) Enabled() bool {
	return c.enabled
}

// MarkAlerted records that an alert was raised for the device/category pair.
// The key expires with the cooldown, so a set key means "still suppressed".
func (c *RedisCache) MarkAlerted(ctx context.Context, deviceID string, category models.AlertCategory, cooldown time.Duration) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	err := c.client.Set(ctx, alertCooldownKey(deviceID, category), 1, cooldown).Err()
	if err != nil {
		return errors.Wrap(err, "failed to set cooldown key in Redis")
	}

	return nil
}

// RecentlyAlerted reports whether a cooldown key is still live for the pair
func (c *RedisCache) RecentlyAlerted(ctx context.Context, deviceID string, category models.AlertCategory) (bool, error) {
	if !c.enabled {
		return false, errors.New("cache is disabled")
	}

	n, err := c.client.Exists(ctx, alertCooldownKey(deviceID, category)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check cooldown key in Redis")
	}

	return n > 0, nil
}

func alertCooldownKey(deviceID string, category models.AlertCategory) string {
	return fmt.Sprintf("alert:%s:%s", deviceID, category)
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}

	return c.client.Close()
}
