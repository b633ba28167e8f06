/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:35:40
 * @FilePath: \releasedock\backend\internal\server\router.go
 * @LastEditTime: 2025-11-04 22:40:51
 */
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"releasedock/backend/internal/handler"
	"releasedock/backend/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	ChangelogHandler       *handler.ChangelogHandler
	PublicChangelogHandler *handler.PublicChangelogHandler
	AuthMW                 middleware.Authenticator
	PublicRateLimit        *middleware.RateLimitMiddleware
	// AllowedOrigins 为空时只放行本机开发地址。
	AllowedOrigins []string
	// Health 返回 nil 表示依赖正常。
	Health func() error
}

// NewRouter 构建应用的 Gin Engine，汇总所有 REST 接口与公共中间件配置。
func NewRouter(opts RouterOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// gin 中间件配置
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  false,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc:  originMatcher(opts.AllowedOrigins),
	}))
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/metrics", "/healthz"},
		Formatter: gin.LogFormatter(func(params gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s\" %d %s\n",
				params.ClientIP,
				params.TimeStamp.Format(time.RFC3339),
				params.Method,
				params.Path,
				params.StatusCode,
				params.Latency,
			)
		}),
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		// 公开接口给发布页和嵌入组件使用，不需要登录，按 IP 限流。
		if opts.PublicChangelogHandler != nil {
			public := api.Group("/public/projects/:projectID")
			if opts.PublicRateLimit != nil {
				public.Use(opts.PublicRateLimit.Handle())
			}
			public.GET("/changelog", opts.PublicChangelogHandler.Feed)
			public.GET("/live", opts.PublicChangelogHandler.Live)
		}

		if opts.ChangelogHandler != nil {
			authed := api.Group("")
			if opts.AuthMW != nil {
				authed.Use(opts.AuthMW.Handle())
			}

			projects := authed.Group("/projects/:projectID/changelog")
			projects.GET("", opts.ChangelogHandler.List)
			projects.POST("", opts.ChangelogHandler.Create)

			entries := authed.Group("/changelog/:id")
			entries.GET("", opts.ChangelogHandler.Get)
			entries.PUT("", opts.ChangelogHandler.Update)
			entries.DELETE("", opts.ChangelogHandler.Delete)
			entries.POST("/publish", opts.ChangelogHandler.Publish)
			entries.POST("/cancel-schedule", opts.ChangelogHandler.CancelSchedule)
			entries.POST("/unpublish", opts.ChangelogHandler.Unpublish)
		}
	}

	return r
}

// originMatcher 优先使用显式配置的白名单，否则只放行 localhost。
func originMatcher(allowed []string) func(origin string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(origin string) bool {
		if origin == "" {
			return false
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		if len(set) > 0 {
			return false
		}
		return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
	}
}
