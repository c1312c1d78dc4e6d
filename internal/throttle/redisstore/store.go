// Package redisstore persists throttle records in Redis so several processes
// share one view of when each key was last synced.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"mediasync/internal/throttle"
)

// DefaultPrefix namespaces throttle keys in a shared Redis database.
const DefaultPrefix = "mediasync:throttle:"

// Config selects the Redis server.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements throttle.Store on Redis. Values are epoch milliseconds
// stored as decimal strings.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg.Prefix), nil
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) redisKey(key string) string { return s.prefix + key }

func (s *Store) Get(ctx context.Context, key string) (throttle.Record, bool, error) {
	ms, err := s.rdb.Get(ctx, s.redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return throttle.Record{}, false, nil
	}
	if err != nil {
		return throttle.Record{}, false, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return throttle.Record{Key: key, LastSyncedAtMs: ms}, true, nil
}

func (s *Store) Put(ctx context.Context, rec throttle.Record) error {
	v := strconv.FormatInt(rec.LastSyncedAtMs, 10)
	if err := s.rdb.Set(ctx, s.redisKey(rec.Key), v, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.rdb.Close() }
