package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hypernova-labs/anaf-service/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis wraps the Redis client used for rate-limit counters and caches.
type Redis struct {
	*redis.Client
}

// ConnectRedis opens the Redis connection and verifies it.
func ConnectRedis(cfg *config.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error pinging Redis: %w", err)
	}

	return &Redis{client}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.Client.Close()
}

// HealthCheck verifies Redis answers pings.
func (r *Redis) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Ping(ctx).Err()
}

// GetStats returns Redis server statistics.
func (r *Redis) GetStats() map[string]interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := make(map[string]interface{})

	if info, err := r.Info(ctx, "stats").Result(); err == nil {
		stats["info"] = info
	}
	if mem, err := r.Info(ctx, "memory").Result(); err == nil {
		stats["memory"] = mem
	}
	if clients, err := r.Info(ctx, "clients").Result(); err == nil {
		stats["clients"] = clients
	}

	return stats
}

// SetWithTTL stores a value with an expiry.
func (r *Redis) SetWithTTL(key string, value interface{}, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.Set(ctx, key, value, ttl).Err()
}

// Get reads a value.
func (r *Redis) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.Get(ctx, key).Result()
}

// Delete removes a key.
func (r *Redis) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.Del(ctx, key).Err()
}

// Exists reports whether a key is present.
func (r *Redis) Exists(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := r.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}

	return result > 0, nil
}

// Incr increments a counter.
func (r *Redis) Incr(key string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.Incr(ctx, key).Result()
}

// IncrBy increments a counter by a given amount.
func (r *Redis) IncrBy(key string, value int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.IncrBy(ctx, key, value).Result()
}

// Expire sets a key's TTL.
func (r *Redis) Expire(key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.Expire(ctx, key, ttl).Err()
}

// TTL returns a key's remaining TTL.
func (r *Redis) TTL(key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Client.TTL(ctx, key).Result()
}

// LogStats logs Redis server statistics.
func (r *Redis) LogStats(logger *logrus.Logger) {
	stats := r.GetStats()
	logger.WithFields(logrus.Fields(stats)).Info("Redis statistics")
}
