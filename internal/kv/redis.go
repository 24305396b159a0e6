package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/utils"
)

// RedisStore keeps each collection under a prefixed key. Used for deployments
// that already run redis and want learn state shared across instances.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	log    *logger.Logger
}

func NewRedisStore(log *logger.Logger) (*RedisStore, error) {
	storeLog := log.With("service", "RedisStore")

	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	prefix := utils.GetEnv("REDIS_KV_PREFIX", "loom:kv:", log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix, log: storeLog}, nil
}

func (s *RedisStore) key(collection string) string {
	return s.prefix + collection
}

func (s *RedisStore) Load(ctx context.Context, collection string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.key(collection)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *RedisStore) Save(ctx context.Context, collection string, value []byte) error {
	return s.rdb.Set(ctx, s.key(collection), value, 0).Err()
}

// Client exposes the underlying connection so the redis leaser can share it.
func (s *RedisStore) Client() *goredis.Client {
	return s.rdb
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
