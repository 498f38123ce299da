// Package redis owns the connection the realtime dashboard bus publishes
// over. Hosted clinics run against a standalone instance; self-hosted
// installs may point the same config at a cluster.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auraflow/auraflow/pkg/config"
)

const connectTimeout = 5 * time.Second

type Client struct {
	rdb redis.UniversalClient
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	addrs := cfg.Addresses
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}

	var rdb redis.UniversalClient
	if cfg.ClusterMode {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:      addrs,
			Password:   cfg.Password,
			PoolSize:   cfg.PoolSize,
			ClientName: "auraflow",
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:       addrs[0],
			Password:   cfg.Password,
			DB:         cfg.DB,
			PoolSize:   cfg.PoolSize,
			ClientName: "auraflow",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %v: %w", addrs, err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Client() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
