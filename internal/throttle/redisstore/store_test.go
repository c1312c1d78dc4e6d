package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"mediasync/internal/throttle/storetest"
)

func TestNew_DefaultPrefix(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer s.Close()

	if got := s.redisKey("movie_popular_updated"); got != "mediasync:throttle:movie_popular_updated" {
		t.Fatalf("redisKey=%q", got)
	}
}

// TestStore_Contract runs against a real server when MEDIASYNC_TEST_REDIS_ADDR is set.
func TestStore_Contract(t *testing.T) {
	addr := os.Getenv("MEDIASYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEDIASYNC_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "mediasync-test:" + t.Name() + ":"

	s, err := Open(ctx, Config{Addr: addr, Prefix: prefix})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	keys, _ := s.rdb.Keys(ctx, prefix+"*").Result()
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	storetest.Run(t, s)
}
