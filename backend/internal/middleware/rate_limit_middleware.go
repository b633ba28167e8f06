/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-13 23:10:00
 * @FilePath: \releasedock\backend\internal\middleware\rate_limit_middleware.go
 * @LastEditTime: 2025-11-04 21:30:18
 */
package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	response "releasedock/backend/internal/infra/common"
	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitConfig 描述公开接口的固定窗口限流参数。
type RateLimitConfig struct {
	Enabled     bool
	Scope       string
	Window      time.Duration
	MaxRequests int
}

// RateLimitMiddleware 按客户端 IP 限制公开日志接口的访问频率。
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	cfg     RateLimitConfig
	logger  *zap.SugaredLogger
}

// NewRateLimitMiddleware 构建限流中间件，limiter 为 nil 时直接放行。
func NewRateLimitMiddleware(limiter ratelimit.Limiter, cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Scope == "" {
		cfg.Scope = "public"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 120
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		cfg:     cfg,
		logger:  appLogger.S().With("component", "middleware.ratelimit"),
	}
}

// Handle 返回 Gin 中间件。限流器故障时放行，只记录日志。
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.cfg.Enabled || m.limiter == nil {
			c.Next()
			return
		}
		ip := strings.TrimSpace(c.ClientIP())
		if ip == "" {
			c.Next()
			return
		}

		key := m.cfg.Scope + ":" + ip
		result, err := m.limiter.Allow(c.Request.Context(), key, m.cfg.MaxRequests, m.cfg.Window)
		if err != nil {
			m.logger.Warnw("rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", m.cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(result.RetryAfter.Seconds()))))
			}
			m.logger.Infow("public request rate limited", "ip", ip, "path", c.FullPath())
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrTooManyRequests, "request rate limited")
			return
		}

		c.Next()
	}
}
