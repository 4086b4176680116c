package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter decides whether a caller may make another request this minute
type RateLimiter interface {
	Allow(ctx context.Context, key string, limitPerMinute int) (bool, error)
	Stats(ctx context.Context) map[string]interface{}
}

// clientWindow tracks requests for a single caller
type clientWindow struct {
	requests []time.Time
	mutex    sync.Mutex
	lastSeen time.Time
}

// MemoryRateLimiter is a per-process sliding window limiter
type MemoryRateLimiter struct {
	clients map[string]*clientWindow
	mutex   sync.RWMutex
	now     func() time.Time
}

// NewMemoryRateLimiter creates a limiter; call Cleanup periodically to drop idle callers
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow implements RateLimiter
func (rl *MemoryRateLimiter) Allow(ctx context.Context, key string, limitPerMinute int) (bool, error) {
	rl.mutex.Lock()
	client, exists := rl.clients[key]
	if !exists {
		client = &clientWindow{}
		rl.clients[key] = client
	}
	rl.mutex.Unlock()

	return client.allow(rl.now(), limitPerMinute), nil
}

func (cw *clientWindow) allow(now time.Time, limitPerMinute int) bool {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	windowStart := now.Add(-time.Minute)
	valid := cw.requests[:0]
	for _, req := range cw.requests {
		if req.After(windowStart) {
			valid = append(valid, req)
		}
	}
	cw.requests = valid
	cw.lastSeen = now

	if len(cw.requests) >= limitPerMinute {
		return false
	}
	cw.requests = append(cw.requests, now)
	return true
}

// Cleanup removes callers idle for longer than idle
func (rl *MemoryRateLimiter) Cleanup(idle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-idle)
	for key, client := range rl.clients {
		client.mutex.Lock()
		if client.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
		client.mutex.Unlock()
	}
}

// Run calls Cleanup every interval until ctx is done
func (rl *MemoryRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(5 * time.Minute)
		}
	}
}

// Stats implements RateLimiter
func (rl *MemoryRateLimiter) Stats(ctx context.Context) map[string]interface{} {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	clientStats := make([]map[string]interface{}, 0, len(rl.clients))
	for key, client := range rl.clients {
		client.mutex.Lock()
		clientStats = append(clientStats, map[string]interface{}{
			"client":        key,
			"request_count": len(client.requests),
			"last_request":  client.lastSeen,
		})
		client.mutex.Unlock()
	}

	return map[string]interface{}{
		"backend":       "memory",
		"total_clients": len(rl.clients),
		"clients":       clientStats,
	}
}

// RedisRateLimiter is a fixed one-minute window shared by every replica
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter creates a limiter storing counters under prefix
func NewRedisRateLimiter(client *redis.Client, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Allow implements RateLimiter
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string, limitPerMinute int) (bool, error) {
	window := rl.now().Unix() / 60
	counterKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, window)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, counterKey)
	pipe.Expire(ctx, counterKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}

	return incr.Val() <= int64(limitPerMinute), nil
}

// Stats implements RateLimiter
func (rl *RedisRateLimiter) Stats(ctx context.Context) map[string]interface{} {
	window := rl.now().Unix() / 60
	keys, err := rl.client.Keys(ctx, fmt.Sprintf("%s:*:%d", rl.prefix, window)).Result()

	stats := map[string]interface{}{"backend": "redis"}
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_clients"] = len(keys)
	return stats
}
