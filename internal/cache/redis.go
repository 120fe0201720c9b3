package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client is the shared connection, nil until InitRedis succeeds.
var Client *redis.Client

var (
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
	parseRedisURL = redis.ParseURL
)

// InitRedis connects to addr, which may be host:port or a redis:// URL. An
// empty addr leaves the prediction cache disabled.
func InitRedis(ctx context.Context, addr string, logger *zap.Logger) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}

	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := parseRedisURL(addr)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}

	client := newRedisClient(opts)
	if err := pingRedis(ctx, client); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	Client = client
	logger.Info("connected to redis", zap.String("addr", opts.Addr))
	return nil
}
