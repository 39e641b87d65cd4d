// Package cache persists submission buckets in redis, one key per language.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"joke-catalog/internal/config"
	"joke-catalog/internal/models"
	"joke-catalog/pkg/logger"
)

const keyPrefix = "submissions:"

type RedisStore struct {
	client redis.Cmdable
	closer func() error
}

func New(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", logger.String("addr", opts.Addr))
	return &RedisStore{client: client, closer: client.Close}, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Key returns the redis key holding lang's bucket.
func Key(lang string) string {
	return keyPrefix + strings.ToLower(lang)
}

func (s *RedisStore) SaveBucket(ctx context.Context, lang string, entries []models.CacheEntry) error {
	data, err := encodeBucket(entries)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(lang), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save bucket %s: %w", lang, err)
	}
	return nil
}

// LoadBucket returns nil when the language has never been saved.
func (s *RedisStore) LoadBucket(ctx context.Context, lang string) ([]models.CacheEntry, error) {
	data, err := s.client.Get(ctx, Key(lang)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load bucket %s: %w", lang, err)
	}
	return decodeBucket(data)
}

func encodeBucket(entries []models.CacheEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.CacheEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bucket: %w", err)
	}
	return data, nil
}

func decodeBucket(data []byte) ([]models.CacheEntry, error) {
	var entries []models.CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bucket: %w", err)
	}
	return entries, nil
}
