package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/logger"
	"github.com/yoockh/yoointerview/internal/store"
)

func render(w io.Writer, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		// round-trip through JSON so field names match the API
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}

type backend struct {
	rdb   *redis.Client
	cache *cache.RedisCache
	kv    *store.KV
	log   *logrus.Logger
}

func openBackend() (*backend, error) {
	if err := config.InitRedis(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	cfg := config.LoadInterview()
	c := cache.NewRedisCache(config.RedisClient)
	return &backend{
		rdb:   config.RedisClient,
		cache: c,
		kv:    store.NewKV(c, cfg.SnapshotTTL),
		log:   logger.New(),
	}, nil
}

func (b *backend) Close() error { return b.rdb.Close() }
