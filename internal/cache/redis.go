package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "snapclaim:perms:"

// Redis shares cached permissions between API replicas.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func key(role string) string { return keyPrefix + role }

func (r *Redis) Get(ctx context.Context, role string) ([]string, bool, error) {
	raw, err := r.rdb.Get(ctx, key(role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", role, err)
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, false, fmt.Errorf("decode cached permissions for %s: %w", role, err)
	}
	return codes, true, nil
}

func (r *Redis) Set(ctx context.Context, role string, codes []string) error {
	raw, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, key(role), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", role, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, role string) error {
	if role != "" {
		return r.rdb.Del(ctx, key(role)).Err()
	}
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}
