package db

import (
	"backend-skatespots/internal/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns the client for the key-value store that holds every
// map entity, or nil when no address is configured.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
