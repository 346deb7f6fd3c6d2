package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds redis sink connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	// Key is the list each line is pushed onto.
	Key string
}

// RedisSink pushes each line onto a redis list with RPUSH.
type RedisSink struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisSink connects to redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg *RedisConfig, logger *slog.Logger) (*RedisSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "key", cfg.Key)

	return &RedisSink{
		client: client,
		key:    cfg.Key,
		logger: logger,
	}, nil
}

// Name returns "redis".
func (s *RedisSink) Name() string {
	return "redis"
}

// Append pushes line, without its trailing newline, onto the list.
func (s *RedisSink) Append(ctx context.Context, line []byte) error {
	if err := s.client.RPush(ctx, s.key, bytes.TrimSuffix(line, []byte("\n"))).Err(); err != nil {
		return fmt.Errorf("pushing line to redis list %s: %w", s.key, err)
	}
	s.logger.Debug("queued line to redis", "key", s.key)
	return nil
}

// Ping checks the redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
