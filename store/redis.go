package store

import (
	"bytes"
	"context"
	"time"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/go-redis/redis/v8"
)

// RedisStore は Redis の文字列値としてバンドルを保存する
// バージョン情報を持たないため CachedLoader は毎回読み込み直す
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore は既存のクライアントを使う RedisStore を作る
// ttl が0なら期限なし
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient は接続を確認したクライアントを作る
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return client, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Save(ctx context.Context, key string, b *equipment.Bundle) error {
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), buf.Bytes(), s.ttl).Err(); err != nil {
		return errors.NewPersistenceError("save", key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (*equipment.Bundle, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, notFound("load", key)
	}
	if err != nil {
		return nil, errors.NewPersistenceError("load", key, err)
	}
	b, err := equipment.DecodeBundle(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewPersistenceError("load", key, err)
	}
	return b, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return errors.NewPersistenceError("delete", key, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, errors.NewPersistenceError("exists", key, err)
	}
	return n > 0, nil
}
