package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/journeys/pkg/logger"
)

// RedisProfileCache shares resolved profiles across processes. Fallback
// profiles are never written.
type RedisProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProfileCache(client *redis.Client, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, ttl: ttl}
}

func profileKey(userID string) string { return fmt.Sprintf("profile:%s", userID) }

func (c *RedisProfileCache) Get(ctx context.Context, userID string) (Profile, bool) {
	data, err := c.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("redis profile get", zap.String("user", userID), zap.Error(err))
		}
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, false
	}
	return p, true
}

func (c *RedisProfileCache) Set(ctx context.Context, p Profile) {
	if p.Fallback {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, profileKey(p.UserID), payload, c.ttl).Err(); err != nil {
		logger.Debug("redis profile set", zap.String("user", p.UserID), zap.Error(err))
	}
}
