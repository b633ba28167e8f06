package middleware

import (
	"releasedock/backend/internal/config"

	"github.com/gin-gonic/gin"
)

// Authenticator 抽象鉴权中间件，实现 Handle() 的结构体即可插入路由。
type Authenticator interface {
	Handle() gin.HandlerFunc
}

// NewAuthenticator 按运行模式选择鉴权方式：本地模式使用固定用户，在线模式校验 JWT。
func NewAuthenticator(flags config.RuntimeFlags, jwtSecret string) Authenticator {
	if flags.IsLocal() {
		return NewOfflineAuthMiddleware(flags.Local)
	}
	return NewAuthMiddleware(jwtSecret)
}
