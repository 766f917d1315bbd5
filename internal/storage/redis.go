package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConn is the slice of Redis this store needs. *redis.Client is
// adapted below; tests substitute an in-memory fake.
type RedisConn interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Redis stores the session in Redis under a key prefix, for bots that
// share one account across processes. The Store interface is synchronous,
// so each operation runs under its own short deadline.
type Redis struct {
	conn    RedisConn
	prefix  string
	timeout time.Duration
}

// NewRedis wraps an established go-redis client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return NewRedisConn(goRedisConn{client}, prefix)
}

// NewRedisConn builds the store over any RedisConn.
func NewRedisConn(conn RedisConn, prefix string) *Redis {
	if prefix == "" {
		prefix = "linego:"
	}
	return &Redis{conn: conn, prefix: prefix, timeout: 5 * time.Second}
}

func (r *Redis) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Redis) Get(key string) (string, bool) {
	ctx, cancel := r.ctx()
	defer cancel()
	v, ok, err := r.conn.Get(ctx, r.prefix+key)
	if err != nil || !ok {
		return "", false
	}
	return v, true
}

func (r *Redis) Set(key, value string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.conn.Set(ctx, r.prefix+key, value); err != nil {
		return fmt.Errorf("storage: redis SET %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(key string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.conn.Del(ctx, r.prefix+key); err != nil {
		return fmt.Errorf("storage: redis DEL %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Clear() error {
	ctx, cancel := r.ctx()
	defer cancel()
	keys, err := r.conn.Keys(ctx, r.prefix+"*")
	if err != nil {
		return fmt.Errorf("storage: redis KEYS: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.conn.Del(ctx, keys...); err != nil {
		return fmt.Errorf("storage: redis DEL: %w", err)
	}
	return nil
}

func (r *Redis) Snapshot() map[string]string {
	ctx, cancel := r.ctx()
	defer cancel()
	out := make(map[string]string)
	keys, err := r.conn.Keys(ctx, r.prefix+"*")
	if err != nil {
		return out
	}
	for _, k := range keys {
		v, ok, err := r.conn.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		out[k[len(r.prefix):]] = v
	}
	return out
}

func (r *Redis) Cursor(chatMid string) (Cursor, bool) {
	return getCursor(r, chatMid)
}

func (r *Redis) SetCursor(chatMid string, cur Cursor) error {
	if err := r.Set(syncPrefix+chatMid, cur.SyncToken); err != nil {
		return err
	}
	if cur.ContinuationToken == "" {
		return r.Delete(contPrefix + chatMid)
	}
	return r.Set(contPrefix+chatMid, cur.ContinuationToken)
}

type goRedisConn struct {
	c *redis.Client
}

func (g goRedisConn) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := g.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (g goRedisConn) Set(ctx context.Context, key, value string) error {
	return g.c.Set(ctx, key, value, 0).Err()
}

func (g goRedisConn) Del(ctx context.Context, keys ...string) error {
	return g.c.Del(ctx, keys...).Err()
}

func (g goRedisConn) Keys(ctx context.Context, pattern string) ([]string, error) {
	return g.c.Keys(ctx, pattern).Result()
}
