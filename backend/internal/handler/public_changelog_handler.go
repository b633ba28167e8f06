package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	response "releasedock/backend/internal/infra/common"
	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/infra/realtime"
	changelogsvc "releasedock/backend/internal/service/changelog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PublicChangelogHandler 提供公开页与嵌入组件使用的只读接口，无需登录。
type PublicChangelogHandler struct {
	service      *changelogsvc.Service
	hub          *realtime.Hub
	defaultLimit int
	logger       *zap.SugaredLogger
}

// NewPublicChangelogHandler 构造公开接口 handler，hub 为 nil 时实时推送接口返回 503。
func NewPublicChangelogHandler(service *changelogsvc.Service, hub *realtime.Hub, defaultLimit int) *PublicChangelogHandler {
	return &PublicChangelogHandler{
		service:      service,
		hub:          hub,
		defaultLimit: defaultLimit,
		logger:       appLogger.S().With("component", "changelog.public"),
	}
}

// Feed 返回项目已发布的日志，按发布日期倒序。
func (h *PublicChangelogHandler) Feed(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.defaultLimit)))
	if err != nil || limit <= 0 {
		limit = h.defaultLimit
	}

	projectID := c.Param("projectID")
	items, err := h.service.ListPublished(c.Request.Context(), projectID, limit)
	if err != nil {
		if errors.Is(err, changelogsvc.ErrInvalidInput) {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
			return
		}
		h.logger.Errorw("list published changelog failed", "project_id", projectID, "error", err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "list changelog failed", nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": items}, nil)
}

// Live 升级为 WebSocket，推送该项目日志的上线与下线事件。
func (h *PublicChangelogHandler) Live(c *gin.Context) {
	if h.hub == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal, "live feed disabled", nil)
		return
	}
	projectID := c.Param("projectID")
	if err := realtime.ServeWs(h.hub, c.Writer, c.Request, projectID); err != nil {
		// Upgrade 失败时 gorilla 已经写过响应。
		h.logger.Debugw("live feed upgrade failed", "project_id", projectID, "error", err)
	}
}

// LiveNotifier 把服务层事件转发到实时推送房间。
type LiveNotifier struct {
	hub *realtime.Hub
}

// NewLiveNotifier 构造 Notifier 实现。
func NewLiveNotifier(hub *realtime.Hub) *LiveNotifier {
	return &LiveNotifier{hub: hub}
}

// Notify 实现 changelogsvc.Notifier，非阻塞。
func (n *LiveNotifier) Notify(_ context.Context, event changelogsvc.Event) {
	if n == nil || n.hub == nil {
		return
	}
	n.hub.Publish(event.ProjectID, string(event.Type), event)
}
