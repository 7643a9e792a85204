package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/adrifthq/adrift/internal/storage"
	"github.com/redis/go-redis/v9"
)

type slotStore struct {
	client *redis.Client
}

func slotKey(key string) string {
	return fmt.Sprintf("adrift:slot:%s", key)
}

func (s *slotStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, slotKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *slotStore) Put(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, slotKey(key), value, 0).Err()
}

func (s *slotStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, slotKey(key)).Err()
}
