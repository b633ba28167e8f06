/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-10 17:01:17
 * @FilePath: \releasedock\backend\internal\infra\ratelimit\limiter.go
 * @LastEditTime: 2025-11-04 18:20:44
 */
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AllowResult 描述限流请求的结果。
type AllowResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Limiter 定义固定窗口限流器的通用能力。
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (AllowResult, error)
}

// RedisLimiter 使用 Redis 计数器实现固定窗口限流，多实例共享计数。
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter 根据 Redis 客户端构造限流器，可自定义 key 前缀。
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow 只在计数器没有过期时间时设置窗口，窗口到期后计数自然归零。
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (AllowResult, error) {
	if limit <= 0 || r == nil || r.client == nil {
		return AllowResult{Allowed: true, Remaining: -1}, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	namespaced := r.prefix + ":" + key
	pipe := r.client.TxPipeline()
	counter := pipe.Incr(ctx, namespaced)
	ttl := pipe.PTTL(ctx, namespaced)
	if _, err := pipe.Exec(ctx); err != nil {
		return AllowResult{}, err
	}

	retryAfter := ttl.Val()
	if retryAfter < 0 {
		// 新建的计数器还没有过期时间。
		if err := r.client.PExpire(ctx, namespaced, window).Err(); err != nil {
			return AllowResult{}, err
		}
		retryAfter = window
	}

	count := int(counter.Val())
	if count > limit {
		return AllowResult{Allowed: false, RetryAfter: retryAfter, Remaining: 0}, nil
	}
	return AllowResult{Allowed: true, Remaining: limit - count}, nil
}

// MemoryLimiter 是单进程版本，用于本地模式与单元测试。
type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]bucket
	now   func() time.Time
}

type bucket struct {
	count   int
	expires time.Time
}

// NewMemoryLimiter 构建内存版限流器。
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]bucket), now: time.Now}
}

// Allow 通过内存 map 统计请求次数，行为与 RedisLimiter 一致。
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, span time.Duration) (AllowResult, error) {
	if limit <= 0 || m == nil {
		return AllowResult{Allowed: true, Remaining: -1}, nil
	}
	if span <= 0 {
		span = time.Minute
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.store[key]
	if !ok || !now.Before(current.expires) {
		m.sweepLocked(now)
		current = bucket{expires: now.Add(span)}
	}
	current.count++
	m.store[key] = current

	if current.count > limit {
		return AllowResult{Allowed: false, RetryAfter: current.expires.Sub(now), Remaining: 0}, nil
	}
	return AllowResult{Allowed: true, Remaining: limit - current.count}, nil
}

// sweepLocked 清理已过期的窗口，防止按 IP 计数的 map 无限增长。
func (m *MemoryLimiter) sweepLocked(now time.Time) {
	for key, w := range m.store {
		if !now.Before(w.expires) {
			delete(m.store, key)
		}
	}
}
