package handler

import (
	changelogsvc "releasedock/backend/internal/service/changelog"

	"github.com/gin-gonic/gin"
)

// extractUserID 读取鉴权中间件写入的 userID，兼容多种整数类型。
func extractUserID(c *gin.Context) (uint, bool) {
	val, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	switch id := val.(type) {
	case uint:
		return id, id > 0
	case uint64:
		return uint(id), id > 0
	case int:
		if id <= 0 {
			return 0, false
		}
		return uint(id), true
	case int64:
		if id <= 0 {
			return 0, false
		}
		return uint(id), true
	case float64:
		if id <= 0 {
			return 0, false
		}
		return uint(id), true
	default:
		return 0, false
	}
}

func isAdmin(c *gin.Context) bool {
	val, ok := c.Get("isAdmin")
	if !ok {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

// actorFromContext 组装服务层使用的调用者身份。
func actorFromContext(c *gin.Context) (changelogsvc.Actor, bool) {
	userID, ok := extractUserID(c)
	if !ok {
		return changelogsvc.Actor{}, false
	}
	return changelogsvc.Actor{UserID: userID, IsAdmin: isAdmin(c)}, true
}
