package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ssctracker:upload:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// UploadCache remembers which question an image digest produced, so a
// repeated upload of the same screenshot skips the AI call. A nil
// *UploadCache is valid and never hits.
type UploadCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewUploadCache returns nil when no address is configured.
func NewUploadCache(ctx context.Context, cfg Config) (*UploadCache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &UploadCache{client: client, ttl: ttl}, nil
}

func (c *UploadCache) Lookup(ctx context.Context, userID, digest string) (string, bool, error) {
	if c == nil {
		return "", false, nil
	}
	v, err := c.client.Get(ctx, uploadKey(userID, digest)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (c *UploadCache) Remember(ctx context.Context, userID, digest, questionID string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, uploadKey(userID, digest), questionID, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *UploadCache) Forget(ctx context.Context, userID, digest string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, uploadKey(userID, digest)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *UploadCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func uploadKey(userID, digest string) string {
	return keyPrefix + userID + ":" + digest
}
