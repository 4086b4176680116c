package auth

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter(t *testing.T) {
	rl := NewMemoryRateLimiter()
	current := time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "client:a", 3)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, _ := rl.Allow(ctx, "client:a", 3)
	assert.False(t, allowed, "fourth request in the window is refused")

	allowed, _ = rl.Allow(ctx, "client:b", 3)
	assert.True(t, allowed, "callers are limited independently")

	current = current.Add(61 * time.Second)
	allowed, _ = rl.Allow(ctx, "client:a", 3)
	assert.True(t, allowed, "window slides forward")

	stats := rl.Stats(ctx)
	assert.Equal(t, "memory", stats["backend"])
	assert.Equal(t, 2, stats["total_clients"])

	current = current.Add(10 * time.Minute)
	rl.Cleanup(5 * time.Minute)
	assert.Equal(t, 0, rl.Stats(ctx)["total_clients"])
}

func TestMemoryRateLimiter_Concurrent(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := rl.Allow(ctx, "client:shared", 10)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func newRedisLimiter(t *testing.T) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRateLimiter(client, "test"), mr
}

func TestRedisRateLimiter(t *testing.T) {
	rl, mr := newRedisLimiter(t)
	current := time.Date(2025, 8, 14, 12, 0, 5, 0, time.UTC)
	rl.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "client:a", 2)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := rl.Allow(ctx, "client:a", 2)
	require.NoError(t, err)
	assert.False(t, allowed)

	key := fmt.Sprintf("test:client:a:%d", current.Unix()/60)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))

	stats := rl.Stats(ctx)
	assert.Equal(t, "redis", stats["backend"])
	assert.Equal(t, 1, stats["total_clients"])

	current = current.Add(time.Minute)
	allowed, err = rl.Allow(ctx, "client:a", 2)
	require.NoError(t, err)
	assert.True(t, allowed, "a new minute starts a new counter")
}

func TestRedisRateLimiter_Unavailable(t *testing.T) {
	rl, mr := newRedisLimiter(t)
	mr.Close()

	allowed, err := rl.Allow(context.Background(), "client:a", 5)
	assert.Error(t, err)
	assert.False(t, allowed)

	stats := rl.Stats(context.Background())
	assert.Contains(t, stats, "error")
}

func TestMiddlewareWithRedisLimiter(t *testing.T) {
	rl, _ := newRedisLimiter(t)
	fixed := time.Date(2025, 8, 14, 12, 0, 5, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	m := NewManager(Config{JWTSecret: "test-secret", RateLimit: 1, AllowAnonymous: true}, rl)
	r := newTestRouter(m)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/tools", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 429}, codes)
}
