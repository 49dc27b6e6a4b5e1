// Package cache wraps a redis client as one logical cache per
// (database, key prefix) pair, with a Scripter adapter so redislock and
// benny-conn/limiters can namespace their keys through the same client.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

type database int

const (
	seenItemsDB database = 0
	rateLimitDB database = 1
)

// Config names one logical cache: a database index plus a key prefix. Every
// cache used by the recommender is a named instance of this.
type Config struct {
	database  database
	keyPrefix string
}

var (
	SeenItemsCache     = Config{database: seenItemsDB, keyPrefix: "seen"}
	PortfolioRateLimit = Config{database: rateLimitDB, keyPrefix: "portfolio"}
)

// Cache is a thin namespaced wrapper over one redis logical database.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	scripter  *scripter
}

// NewCache dials redisURL/pass for the database named by cfg.
func NewCache(ctx context.Context, redisURL, redisPass string, cfg Config) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     redisURL,
		Password: redisPass,
		DB:       int(cfg.database),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		panic(err)
	}

	c := &Cache{client: client, keyPrefix: cfg.keyPrefix}
	c.scripter = &scripter{cache: c}
	return c
}

func (c *Cache) Client() *redis.Client    { return c.client }
func (c *Cache) Prefix() string           { return c.keyPrefix }
func (c *Cache) Scripter() redis.Scripter { return c.scripter }

func (c *Cache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, c.prefixed(key), value, expiration).Err()
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	bs, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound{Key: key}
		}
		return nil, err
	}
	return bs, nil
}

// SAdd/SIsMember operate on a prefixed redis set. The seen-items cache in
// internal/online/context does not use them: it stores a JSON-encoded id
// list through Set/Get.
func (c *Cache) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.client.SAdd(ctx, c.prefixed(key), args...).Err()
}

func (c *Cache) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return c.client.SIsMember(ctx, c.prefixed(key), member).Result()
}

func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, c.prefixed(key), ttl).Err()
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) prefixed(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

func (c *Cache) prefixedMany(keys []string) []string {
	if c.keyPrefix == "" {
		return keys
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = c.keyPrefix + ":" + k
	}
	return out
}

// scripter adapts Cache to the redis.Scripter interface so Lua scripts and
// redislock both go through the same prefixed keyspace.
type scripter struct {
	cache *Cache
}

func (s scripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.Eval(ctx, script, s.cache.prefixedMany(keys), args...)
}

func (s scripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.cache.client.EvalSha(ctx, sha1, s.cache.prefixedMany(keys), args...)
}

func (s scripter) ScriptExists(ctx context.Context, scripts ...string) *redis.BoolSliceCmd {
	return s.cache.client.ScriptExists(ctx, scripts...)
}

func (s scripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return s.cache.client.ScriptLoad(ctx, script)
}

func NewLockClient(cache *Cache) *redislock.Client {
	return redislock.New(&redislockCacheClient{scripter: *cache.scripter})
}

type redislockCacheClient struct {
	scripter
}

func (r *redislockCacheClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return r.cache.client.SetNX(ctx, r.cache.prefixed(key), value, expiration)
}
