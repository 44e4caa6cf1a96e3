package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/config"
)

var errNilRedisClient = errors.New("redis client is nil")

// redisConnectTimeout bounds the startup ping so a wrong address fails
// fast instead of hanging boot.
const redisConnectTimeout = 5 * time.Second

// RedisClient wraps the shared Redis connection. The raw client is
// exported because the analysis cache and the admin surface speak
// go-redis directly.
type RedisClient struct {
	Client *redis.Client
}

// NewRedisConnection dials Redis and verifies it responds before the
// client is handed to anything else. Callers treat an error as "run
// without Redis", so the message names the address that failed.
func NewRedisConnection(cfg config.RedisConfig) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logrus.WithField("addr", addr).Info("Connected to Redis")
	return &RedisClient{Client: rdb}, nil
}

// Close shuts down the connection pool. Safe on a nil client.
func (r *RedisClient) Close() {
	if r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close Redis connection")
		return
	}
	logrus.Info("Redis connection closed")
}

// HealthCheck pings Redis. The readiness probe calls this through the
// HealthPinger interface.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return errNilRedisClient
	}
	return r.Client.Ping(ctx).Err()
}
