package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yashrajoria/course-access-service/models"
)

// AccessCodeCachePrefix namespaces cached records in Redis.
const AccessCodeCachePrefix = "access:code:"

// AccessCodeCache is a read-through cache for issued records. Get returns
// (nil, nil) on a miss.
type AccessCodeCache interface {
	Get(ctx context.Context, code string) (*models.AccessCode, error)
	Set(ctx context.Context, rec *models.AccessCode) error
}

// RedisAccessCodeCache stores records as JSON strings. Records never change
// once issued, so entries only expire through the TTL.
type RedisAccessCodeCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisAccessCodeCache(client *redis.Client, ttl time.Duration) *RedisAccessCodeCache {
	return &RedisAccessCodeCache{redis: client, ttl: ttl}
}

func (c *RedisAccessCodeCache) Get(ctx context.Context, code string) (*models.AccessCode, error) {
	data, err := c.redis.Get(ctx, AccessCodeCachePrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.AccessCode
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RedisAccessCodeCache) Set(ctx context.Context, rec *models.AccessCode) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, AccessCodeCachePrefix+rec.Code, data, c.ttl).Err()
}
