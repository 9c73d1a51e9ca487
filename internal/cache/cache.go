package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Keys returns every key matching a glob pattern ("quick_interview_*").
	Keys(ctx context.Context, pattern string) ([]string, error)
}
