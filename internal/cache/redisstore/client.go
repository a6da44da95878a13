// Package redisstore is the redis-backed cache.Interface shared by the layer
// source and the data service.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/geoatlas/internal/cache"
	"github.com/mohammed-shakir/geoatlas/internal/core/observability"
)

var (
	_ cache.Interface = (*Client)(nil)
	_ cache.Matcher   = (*Client)(nil)
)

// scanBatch bounds both the SCAN COUNT hint and the keys per DEL.
const scanBatch = 256

type Client struct {
	rdb *redis.Client
}

// New dials addr and pings it; an unreachable server is an error.
func New(ctx context.Context, addr string) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	c := &Client{rdb: rdb}
	if err := c.timed("ping", func() error { return rdb.Ping(ctx).Err() }); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (c *Client) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
	return err
}

// MGet returns the values of the keys that exist. Hits and misses are counted.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var vals []any
	err := c.timed("mget", func() (err error) {
		vals, err = c.rdb.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		if b, ok := asBytes(v); ok {
			out[keys[i]] = b
		}
	}
	observability.AddCacheHits(len(out))
	observability.AddCacheMisses(len(keys) - len(out))
	return out, nil
}

func asBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return fmt.Append(nil, t), true
	}
}

// Set stores val under key. A zero ttl keeps the entry until deleted.
func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.timed("set", func() error { return c.rdb.Set(ctx, key, val, ttl).Err() }); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.timed("del", func() error { return c.rdb.Del(ctx, keys...).Err() }); err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// DelMatch deletes every key matching the glob pattern and returns how many
// keys it removed. Keys written while the scan runs may survive.
func (c *Client) DelMatch(ctx context.Context, pattern string) (int, error) {
	removed := 0
	err := c.timed("del_match", func() error {
		batch := make([]string, 0, scanBatch)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := c.rdb.Del(ctx, batch...).Result()
			removed += int(n)
			batch = batch[:0]
			return err
		}
		it := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
		for it.Next(ctx) {
			batch = append(batch, it.Val())
			if len(batch) == scanBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := it.Err(); err != nil {
			return err
		}
		return flush()
	})
	if err != nil {
		return removed, fmt.Errorf("redis delete %q: %w", pattern, err)
	}
	return removed, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
