package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisConnectTimeout bounds the initial PING.
const DefaultRedisConnectTimeout = 5 * time.Second

// Redis stores entries with SET key value EX ttl.
type Redis struct {
	client *redis.Client
}

var _ Cache = (*Redis)(nil)

// RedisOptions parses addr as a redis:// or rediss:// URL, or else as a
// plain host:port.
func RedisOptions(addr string) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		return opt, nil
	}
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	return &redis.Options{Addr: addr}, nil
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	opt, err := RedisOptions(addr)
	if err != nil {
		return nil, err
	}
	opt.DialTimeout = DefaultRedisConnectTimeout

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultRedisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get reads key. redis.Nil is a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set writes key with expiry ttl. ttl <= 0 uses DefaultTTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
