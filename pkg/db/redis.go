package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient wraps the shared client with a key namespace so several
// deployments can share one Redis.
type RedisClient struct {
	*redis.Client
	prefix string
}

func NewRedisConnection(redisURL, namespace string) (*RedisClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewRedisClient(client, namespace), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, namespace string) *RedisClient {
	return &RedisClient{Client: client, prefix: strings.TrimSuffix(namespace, ":")}
}

// Key joins parts under the client's namespace: Key("metrics", "7") -> "ns:metrics:7".
func (r *RedisClient) Key(parts ...string) string {
	if r.prefix == "" {
		return strings.Join(parts, ":")
	}
	return r.prefix + ":" + strings.Join(parts, ":")
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}
