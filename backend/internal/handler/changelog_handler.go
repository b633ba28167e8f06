/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-12 11:24:03
 * @FilePath: \releasedock\backend\internal\handler\changelog_handler.go
 * @LastEditTime: 2025-11-04 22:16:09
 */
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	response "releasedock/backend/internal/infra/common"
	appLogger "releasedock/backend/internal/infra/logger"
	changelogsvc "releasedock/backend/internal/service/changelog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChangelogHandler 提供项目成员使用的更新日志编辑与发布接口。
type ChangelogHandler struct {
	service *changelogsvc.Service
	logger  *zap.SugaredLogger
}

// NewChangelogHandler 构造 handler。
func NewChangelogHandler(service *changelogsvc.Service) *ChangelogHandler {
	baseLogger := appLogger.S().With("component", "changelog.handler")
	return &ChangelogHandler{service: service, logger: baseLogger}
}

type createEntryRequest struct {
	Badge    string          `json:"badge"`
	Title    string          `json:"title" binding:"required"`
	Summary  string          `json:"summary"`
	Content  json.RawMessage `json:"content"`
	Labels   []string        `json:"labels"`
	CoverURL string          `json:"cover_url"`
}

// updateEntryRequest 中省略的字段保持不变。
type updateEntryRequest struct {
	Badge    *string         `json:"badge"`
	Title    *string         `json:"title"`
	Summary  *string         `json:"summary"`
	Content  json.RawMessage `json:"content"`
	Labels   *[]string       `json:"labels"`
	CoverURL *string         `json:"cover_url"`
}

type publishRequest struct {
	ScheduledAt *string `json:"scheduled_at"`
}

// Create 在项目下新建草稿。
func (h *ChangelogHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	entry, err := h.service.CreateEntry(c.Request.Context(), actor, changelogsvc.CreateEntryParams{
		ProjectID: c.Param("projectID"),
		Badge:     req.Badge,
		Title:     req.Title,
		Summary:   req.Summary,
		Content:   req.Content,
		Labels:    req.Labels,
		CoverURL:  req.CoverURL,
	})
	if err != nil {
		h.fail(c, "create", err, "project_id", c.Param("projectID"))
		return
	}

	response.Created(c, gin.H{"entry": entry}, nil)
}

// List 分页列出项目下的日志，可按 status 过滤。
func (h *ChangelogHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "0"))
	if err != nil || pageSize < 0 {
		pageSize = 0
	}

	projectID := c.Param("projectID")
	out, err := h.service.ListEntries(c.Request.Context(), actor, projectID, c.Query("status"), page, pageSize)
	if err != nil {
		h.fail(c, "list", err, "project_id", projectID)
		return
	}

	totalPages := 0
	if out.PageSize > 0 {
		totalPages = int((out.Total + int64(out.PageSize) - 1) / int64(out.PageSize))
	}

	response.Success(
		c,
		http.StatusOK,
		gin.H{"items": out.Items},
		response.MetaPagination{
			Page:         out.Page,
			PageSize:     out.PageSize,
			TotalItems:   int(out.Total),
			TotalPages:   totalPages,
			CurrentCount: len(out.Items),
		},
	)
}

// Get 返回单条日志。
func (h *ChangelogHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	entry, err := h.service.GetEntry(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, "get", err, "id", c.Param("id"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": entry}, nil)
}

// Update 编辑内容字段，不影响发布状态。
func (h *ChangelogHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	var req updateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	entry, err := h.service.UpdateEntry(c.Request.Context(), actor, c.Param("id"), changelogsvc.UpdateEntryParams{
		Badge:    req.Badge,
		Title:    req.Title,
		Summary:  req.Summary,
		Content:  req.Content,
		Labels:   req.Labels,
		CoverURL: req.CoverURL,
	})
	if err != nil {
		h.fail(c, "update", err, "id", c.Param("id"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": entry}, nil)
}

// Delete 删除日志。
func (h *ChangelogHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	if err := h.service.DeleteEntry(c.Request.Context(), actor, c.Param("id")); err != nil {
		h.fail(c, "delete", err, "id", c.Param("id"))
		return
	}
	response.NoContent(c)
}

// Publish 立即发布或排期发布。body 可为空；scheduled_at 为 RFC3339 时间，
// 不晚于当前时间时按立即发布处理。
func (h *ChangelogHandler) Publish(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil && strings.TrimSpace(*req.ScheduledAt) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ScheduledAt))
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "scheduled_at must be RFC3339", nil)
			return
		}
		scheduledAt = &parsed
	}

	entry, err := h.service.RequestPublish(c.Request.Context(), actor, c.Param("id"), scheduledAt)
	if err != nil {
		h.fail(c, "publish", err, "id", c.Param("id"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": entry}, nil)
}

// CancelSchedule 取消排期，日志回到草稿。
func (h *ChangelogHandler) CancelSchedule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	entry, err := h.service.CancelSchedule(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, "cancel_schedule", err, "id", c.Param("id"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": entry}, nil)
}

// Unpublish 下线已发布的日志，保留原发布日期。
func (h *ChangelogHandler) Unpublish(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	entry, err := h.service.Unpublish(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, "unpublish", err, "id", c.Param("id"))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entry": entry}, nil)
}

// fail 把服务层错误映射为统一响应，只有未预期的错误才记 error 日志。
func (h *ChangelogHandler) fail(c *gin.Context, action string, err error, keysAndValues ...any) {
	switch {
	case errors.Is(err, changelogsvc.ErrEntryNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound, err.Error(), nil)
	case errors.Is(err, changelogsvc.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden, "no access to this project", nil)
	case errors.Is(err, changelogsvc.ErrInvalidInput):
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
	case errors.Is(err, changelogsvc.ErrInvalidState):
		var details any
		var stateErr *changelogsvc.InvalidStateError
		if errors.As(err, &stateErr) {
			details = gin.H{"current": stateErr.Current, "required": stateErr.Required}
		}
		response.Fail(c, http.StatusConflict, response.ErrInvalidState, err.Error(), details)
	case errors.Is(err, changelogsvc.ErrConcurrentModification):
		h.logger.Warnw("changelog write conflict", append([]any{"action", action}, keysAndValues...)...)
		response.Fail(c, http.StatusConflict, response.ErrConflict, "entry was modified concurrently, please retry", nil)
	default:
		h.logger.Errorw("changelog request failed", append([]any{"action", action, "error", err}, keysAndValues...)...)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal error", nil)
	}
}
