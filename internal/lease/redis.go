package lease

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/loom-backend/internal/logger"
)

// RedisLeaser holds leases as SET NX PX keys, for multi-instance deployments
// where the flags collection alone cannot arbitrate.
type RedisLeaser struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisLeaser(rdb *goredis.Client, prefix string, ttl time.Duration, log *logger.Logger) *RedisLeaser {
	return &RedisLeaser{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With("component", "RedisLeaser"),
	}
}

func (l *RedisLeaser) key(k string) string { return l.prefix + k }

func (l *RedisLeaser) Acquire(ctx context.Context, key string) (Token, error) {
	now := time.Now()
	ok, err := l.rdb.SetNX(ctx, l.key(key), now.Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, ErrBusy
	}
	return Token{Key: key, Acquired: now}, nil
}

func (l *RedisLeaser) Release(ctx context.Context, tok Token) error {
	if tok.Key == "" {
		return nil
	}
	val, err := l.rdb.Get(ctx, l.key(tok.Key)).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != tok.Acquired.Format(time.RFC3339Nano) {
		// Expired and re-acquired by someone else; leave theirs alone.
		return nil
	}
	return l.rdb.Del(ctx, l.key(tok.Key)).Err()
}

func (l *RedisLeaser) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
