package middleware

import (
	"releasedock/backend/internal/config"

	"github.com/gin-gonic/gin"
)

// OfflineAuthMiddleware 在本地模式下注入固定用户，绕过 JWT 校验流程。
type OfflineAuthMiddleware struct {
	userID   uint
	username string
	isAdmin  bool
}

// NewOfflineAuthMiddleware 根据本地运行配置构造离线鉴权中间件。
func NewOfflineAuthMiddleware(local config.LocalRuntime) *OfflineAuthMiddleware {
	return &OfflineAuthMiddleware{
		userID:   local.UserID,
		username: local.Username,
		isAdmin:  local.IsAdmin,
	}
}

// Handle 将固定用户写入上下文，与 JWT 中间件写入的键保持一致。
func (m *OfflineAuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", m.userID)
		c.Set("username", m.username)
		c.Set("isAdmin", m.isAdmin)
		c.Next()
	}
}
