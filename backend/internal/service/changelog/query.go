package changelog

import (
	"context"
	"fmt"
	"strings"

	domain "releasedock/backend/internal/domain/changelog"
	"releasedock/backend/internal/repository"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	defaultFeedLimit = 20
	maxFeedLimit     = 50
)

// ListResult 包含分页后的日志列表与总数。
type ListResult struct {
	Items    []Entry
	Total    int64
	Page     int
	PageSize int
}

// ListEntries 按项目列出日志，status 为空表示全部状态。
func (s *Service) ListEntries(ctx context.Context, actor Actor, projectID, status string, page, pageSize int) (ListResult, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ListResult{}, invalidInput("project_id cannot be empty")
	}
	var filterStatus domain.Status
	if trimmed := strings.TrimSpace(status); trimmed != "" {
		parsed, ok := domain.ParseStatus(trimmed)
		if !ok {
			return ListResult{}, invalidInput("unknown status %q", trimmed)
		}
		filterStatus = parsed
	}
	if err := s.access.AuthorizeProject(ctx, actor, projectID, PermissionRead); err != nil {
		return ListResult{}, err
	}

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	models, err := s.entries.ListByProject(ctx, repository.ChangelogListFilter{
		ProjectID: projectID,
		Status:    filterStatus,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list entries: %w", err)
	}
	total, err := s.entries.CountByProject(ctx, projectID, filterStatus)
	if err != nil {
		return ListResult{}, fmt.Errorf("count entries: %w", err)
	}

	items, err := toEntries(models)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListPublished 返回公开页与嵌入组件使用的已发布日志，无需登录。
func (s *Service) ListPublished(ctx context.Context, projectID string, limit int) ([]Entry, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, invalidInput("project_id cannot be empty")
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	models, err := s.entries.ListByProject(ctx, repository.ChangelogListFilter{
		ProjectID: projectID,
		Status:    domain.StatusPublished,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list published entries: %w", err)
	}
	return toEntries(models)
}

func toEntries(models []domain.Entry) ([]Entry, error) {
	items := make([]Entry, 0, len(models))
	for _, model := range models {
		item, err := toEntry(model)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
