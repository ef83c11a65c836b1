package rediscli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	User     string
	Password string
	DB       int

	DialTimeout time.Duration
	// PingTimeout bounds the connectivity check done before returning.
	PingTimeout time.Duration
}

// NewClient returns a client that has answered a PING.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.User,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}
