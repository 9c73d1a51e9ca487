package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// RedisSettings configures the snapshot store, pub/sub and archive stream
// client. Addr is host:port or a redis:// / rediss:// URL.
type RedisSettings struct {
	Addr         string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func LoadRedisSettings() RedisSettings {
	addr := envString("REDIS_ADDR", "")
	if addr == "" {
		addr = envString("REDIS_URI", "")
	}
	if addr == "" {
		addr = envString("REDIS_URL", "")
	}
	return RedisSettings{
		Addr:         addr,
		PoolSize:     envInt("REDIS_POOL_SIZE", 20),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func (s RedisSettings) options() (*redis.Options, error) {
	if s.Addr == "" {
		return nil, errors.New("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set")
	}
	opt := &redis.Options{Addr: s.Addr}
	if strings.HasPrefix(s.Addr, "redis://") || strings.HasPrefix(s.Addr, "rediss://") {
		var err error
		if opt, err = redis.ParseURL(s.Addr); err != nil {
			return nil, err
		}
	}
	opt.PoolSize = s.PoolSize
	opt.DialTimeout = s.DialTimeout
	opt.ReadTimeout = s.ReadTimeout
	opt.WriteTimeout = s.WriteTimeout
	return opt, nil
}

func InitRedis() error {
	s := LoadRedisSettings()
	opt, err := s.options()
	if err != nil {
		return err
	}
	RedisClient = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), s.DialTimeout)
	defer cancel()
	return RedisClient.Ping(ctx).Err()
}
