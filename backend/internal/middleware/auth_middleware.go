/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:41:15
 * @FilePath: \releasedock\backend\internal\middleware\auth_middleware.go
 * @LastEditTime: 2025-11-05 09:20:14
 */
package middleware

import (
	"errors"
	"net/http"
	"strings"

	response "releasedock/backend/internal/infra/common"
	"releasedock/backend/internal/infra/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 基于共享密钥校验 JWT 的合法性，保护受限路由。
// 令牌由外部身份服务签发，这里只做校验，不负责登录与刷新。
type AuthMiddleware struct {
	tokens *token.JWTManager
}

// NewAuthMiddleware 创建鉴权中间件实例，注入 JWT 签名密钥。
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{tokens: token.NewJWTManager(secret)}
}

// Handle 返回 Gin 中间件，验证 Bearer Token 并在上下文中注入 userID、username 与 isAdmin。
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing authorization header")
			return
		}

		claims, err := m.tokens.ParseAccessToken(authHeader[7:])
		if err != nil {
			message := "invalid token"
			if errors.Is(err, token.ErrInvalidSubject) {
				message = "invalid token subject"
			}
			response.AbortFail(c, http.StatusUnauthorized, response.ErrUnauthorized, message)
			return
		}

		c.Set("claims", claims)
		c.Set("userID", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("isAdmin", claims.IsAdmin)
		c.Next()
	}
}
