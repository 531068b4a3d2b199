package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "reset-token:"

type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(addr string, password string, db int) *RedisTokenStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}

func (s *RedisTokenStore) Put(ctx context.Context, token string, username string, ttl time.Duration) error {
	return s.client.Set(ctx, tokenKeyPrefix+token, username, ttl).Err()
}

func (s *RedisTokenStore) Take(ctx context.Context, token string) (string, error) {
	username, err := s.client.GetDel(ctx, tokenKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	return username, nil
}
