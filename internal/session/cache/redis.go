package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/sessiond/internal/session/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache is the Redis-backed session cache. Key layout:
//
//	sess:<id>      JSON snapshot, TTL = access window
//	stale:<id>     JSON shadow snapshot, TTL = remaining refresh lifetime
//	user:<userID>  SET of session ids, for bulk invalidation
//
// The snapshot JSON never contains the refresh token hash; refresh always
// reads the durable store.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisCache wraps an existing Redis client. prefix namespaces every key
// so several environments can share one Redis.
func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "sessiond"
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(id string) string         { return c.prefix + ":sess:" + id }
func (c *RedisCache) staleKey(id string) string    { return c.prefix + ":stale:" + id }
func (c *RedisCache) userKey(userID string) string { return c.prefix + ":user:" + userID }

func (c *RedisCache) Set(ctx context.Context, sess domain.Session, ttl, staleTTL time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if staleTTL < ttl {
		staleTTL = ttl
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(sess.ID), data, ttl)
		pipe.Set(ctx, c.staleKey(sess.ID), data, staleTTL)
		pipe.SAdd(ctx, c.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, c.userKey(sess.UserID), staleTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (domain.Session, error) {
	return c.get(ctx, c.key(id))
}

func (c *RedisCache) GetStale(ctx context.Context, id string) (domain.Session, error) {
	return c.get(ctx, c.staleKey(id))
}

func (c *RedisCache) get(ctx context.Context, key string) (domain.Session, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Session{}, ErrMiss
		}
		return domain.Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt snapshot behaves like a miss so the durable store heals it.
		return domain.Session{}, ErrMiss
	}
	return sess, nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	// Learn the owner from the shadow copy so the user index stays tidy.
	sess, err := c.GetStale(ctx, id)
	if err != nil && !errors.Is(err, ErrMiss) {
		return err
	}

	_, pipeErr := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(id), c.staleKey(id))
		if sess.UserID != "" {
			pipe.SRem(ctx, c.userKey(sess.UserID), id)
		}
		return nil
	})
	if pipeErr != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, pipeErr)
	}
	return nil
}

func (c *RedisCache) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := c.userKey(userID)

	ids, err := c.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(ids)*2+1)
	for _, id := range ids {
		keys = append(keys, c.key(id), c.staleKey(id))
	}
	keys = append(keys, userKey)

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
