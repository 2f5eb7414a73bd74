package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCandidates are tried in order when REDIS_ADDR is unset: the compose service
// name in CI, a host-mapped CI port, then the local test profile port.
var redisCandidates = []string{"redis:6379", "localhost:6379", "localhost:56379"}

// GetTestRedisAddr returns the first reachable Redis address and whether one was found.
func GetTestRedisAddr(t TestingTB) (string, bool) {
	t.Helper()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, redisReachable(t, addr)
	}
	for _, addr := range redisCandidates {
		if redisReachable(t, addr) {
			return addr, true
		}
	}
	return redisCandidates[len(redisCandidates)-1], false
}

func redisReachable(t TestingTB, addr string) bool {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Logf("Redis not available at %s: %v", addr, err)
		return false
	}
	return true
}

// selectTestRedisDB picks a DB index so parallel packages do not flush each other.
// TEST_REDIS_DB wins; otherwise an index in [1..15] is reserved with a lock key in
// DB 0, which FlushDB on the test DB cannot remove.
func selectTestRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("Invalid TEST_REDIS_DB=%q, falling back to auto-select", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = meta.Close() }()
	owner := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for i := 1; i <= 15; i++ {
		key := fmt.Sprintf("enhancer:testutil:db_lock:%d", i)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, owner, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		onCleanup(t, func() {
			c := redis.NewClient(&redis.Options{Addr: addr})
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = c.Del(ctx, key).Err()
			_ = c.Close()
		})
		return i
	}
	return 1
}

// SetupTestRedis returns an empty Redis DB for the test, or skips when Redis is down.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()
	require := envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA")

	addr, ok := GetTestRedisAddr(t)
	if !ok {
		if require {
			t.Fatal("Redis not available for testing")
		}
		t.Skip("Redis not available for testing")
	}

	db := selectTestRedisDB(t, addr)
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		if require {
			t.Fatalf("Redis not usable at %s DB %d: %v", addr, db, err)
		}
		t.Skipf("Redis not usable at %s DB %d: %v", addr, db, err)
	}
	t.Logf("Using Redis DB=%d for tests at %s", db, addr)
	return client
}
