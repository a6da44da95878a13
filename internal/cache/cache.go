// Package cache defines the byte store used to cache layer responses.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Matcher is implemented by stores that can drop keys by glob pattern.
type Matcher interface {
	DelMatch(ctx context.Context, pattern string) (int, error)
}
