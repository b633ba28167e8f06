/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-12 11:15:48
 * @FilePath: \releasedock\backend\internal\service\changelog\service.go
 * @LastEditTime: 2025-11-04 15:37:02
 */
package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "releasedock/backend/internal/domain/changelog"
	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EntryStore 是日志记录的持久化接口，由 repository.ChangelogRepository 实现。
// 生命周期列只能通过 CompareAndSetLifecycle 写入。
type EntryStore interface {
	Create(ctx context.Context, entry *domain.Entry) error
	FindByID(ctx context.Context, id string) (*domain.Entry, error)
	UpdateContent(ctx context.Context, id string, fields map[string]any, now time.Time) error
	CompareAndSetLifecycle(ctx context.Context, id string, expectStatus domain.Status, expectVersion uint, patch domain.LifecyclePatch, now time.Time) (bool, error)
	ListByProject(ctx context.Context, filter repository.ChangelogListFilter) ([]domain.Entry, error)
	CountByProject(ctx context.Context, projectID string, status domain.Status) (int64, error)
	ListOverdueScheduled(ctx context.Context, before time.Time, limit int) ([]domain.Entry, error)
	Delete(ctx context.Context, id string) error
}

// TaskScheduler 是状态机依赖的延时任务能力，deferred.Scheduler 满足该接口。
type TaskScheduler interface {
	Schedule(ctx context.Context, kind string, at time.Time, payload any) (string, error)
	Cancel(ctx context.Context, taskID string) error
}

// Options 描述可选依赖。
type Options struct {
	Notifier Notifier
	Clock    func() time.Time
}

// Service 封装更新日志的读写逻辑与发布状态机。
type Service struct {
	entries   EntryStore
	scheduler TaskScheduler
	access    Authorizer
	notifier  Notifier
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewService 构造日志服务。
func NewService(entries EntryStore, scheduler TaskScheduler, access Authorizer, opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		entries:   entries,
		scheduler: scheduler,
		access:    access,
		notifier:  notifier,
		now:       func() time.Time { return clock().UTC() },
		logger:    appLogger.S().With("component", "changelog.service"),
	}
}

// Entry 表示返回给前端的日志信息。
type Entry struct {
	ID                   string          `json:"id"`
	ProjectID            string          `json:"project_id"`
	Status               domain.Status   `json:"status"`
	Badge                string          `json:"badge"`
	Title                string          `json:"title"`
	Summary              string          `json:"summary"`
	Content              json.RawMessage `json:"content,omitempty"`
	Labels               []string        `json:"labels"`
	CoverURL             string          `json:"cover_url,omitempty"`
	PublishDate          *time.Time      `json:"publish_date,omitempty"`
	ScheduledPublishTime *time.Time      `json:"scheduled_publish_time,omitempty"`
	AuthorID             *uint           `json:"author_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// CreateEntryParams 描述新建日志时允许填写的字段，新建的日志总是草稿。
type CreateEntryParams struct {
	ProjectID string
	Badge     string
	Title     string
	Summary   string
	Content   json.RawMessage
	Labels    []string
	CoverURL  string
}

// UpdateEntryParams 只包含内容字段，nil 表示保持不变，适配编辑器自动保存的局部提交。
type UpdateEntryParams struct {
	Badge    *string
	Title    *string
	Summary  *string
	Content  json.RawMessage
	Labels   *[]string
	CoverURL *string
}

// CreateEntry 新增一条草稿日志。
func (s *Service) CreateEntry(ctx context.Context, actor Actor, params CreateEntryParams) (Entry, error) {
	projectID := strings.TrimSpace(params.ProjectID)
	if projectID == "" {
		return Entry{}, invalidInput("project_id cannot be empty")
	}
	if err := s.access.AuthorizeProject(ctx, actor, projectID, PermissionWrite); err != nil {
		return Entry{}, err
	}

	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Entry{}, invalidInput("title cannot be empty")
	}
	content, err := normaliseContent(params.Content)
	if err != nil {
		return Entry{}, err
	}
	labels, err := encodeLabels(params.Labels)
	if err != nil {
		return Entry{}, err
	}

	now := s.now()
	model := &domain.Entry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    domain.StatusDraft,
		Badge:     strings.TrimSpace(params.Badge),
		Title:     title,
		Summary:   strings.TrimSpace(params.Summary),
		Content:   content,
		Labels:    labels,
		CoverURL:  strings.TrimSpace(params.CoverURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if actor.UserID != 0 {
		authorID := actor.UserID
		model.AuthorID = &authorID
	}

	if err := s.entries.Create(ctx, model); err != nil {
		return Entry{}, fmt.Errorf("persist entry: %w", err)
	}
	return toEntry(*model)
}

// UpdateEntry 更新内容字段。不会读写任何生命周期字段，可以与发布/排期并发执行。
func (s *Service) UpdateEntry(ctx context.Context, actor Actor, id string, params UpdateEntryParams) (Entry, error) {
	if _, err := s.loadAuthorized(ctx, actor, id, PermissionWrite); err != nil {
		return Entry{}, err
	}

	fields := make(map[string]any)
	if params.Badge != nil {
		fields["badge"] = strings.TrimSpace(*params.Badge)
	}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return Entry{}, invalidInput("title cannot be empty")
		}
		fields["title"] = title
	}
	if params.Summary != nil {
		fields["summary"] = strings.TrimSpace(*params.Summary)
	}
	// "content": null 视为未修改，避免自动保存清空编辑器内容。
	if params.Content != nil && strings.TrimSpace(string(params.Content)) != "null" {
		content, err := normaliseContent(params.Content)
		if err != nil {
			return Entry{}, err
		}
		fields["content"] = content
	}
	if params.Labels != nil {
		labels, err := encodeLabels(*params.Labels)
		if err != nil {
			return Entry{}, err
		}
		fields["labels"] = labels
	}
	if params.CoverURL != nil {
		fields["cover_url"] = strings.TrimSpace(*params.CoverURL)
	}
	if len(fields) == 0 {
		return Entry{}, invalidInput("nothing to update")
	}

	if err := s.entries.UpdateContent(ctx, id, fields, s.now()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("update entry: %w", err)
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(*updated)
}

// GetEntry 返回单条日志，需要项目读权限。
func (s *Service) GetEntry(ctx context.Context, actor Actor, id string) (Entry, error) {
	model, err := s.loadAuthorized(ctx, actor, id, PermissionRead)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(*model)
}

// DeleteEntry 删除指定日志，删除前尽力取消挂着的定时任务。
func (s *Service) DeleteEntry(ctx context.Context, actor Actor, id string) error {
	model, err := s.loadAuthorized(ctx, actor, id, PermissionWrite)
	if err != nil {
		return err
	}
	if model.HasPendingTask() {
		s.cancelTask(ctx, model.ID, *model.DeferredTaskID)
	}

	if err := s.entries.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("delete entry: %w", err)
	}

	if model.Status == domain.StatusPublished {
		s.notify(ctx, EventEntryUnpublished, model)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Entry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEntryNotFound
	}
	model, err := s.entries.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("load entry: %w", err)
	}
	return model, nil
}

func (s *Service) loadAuthorized(ctx context.Context, actor Actor, id string, perm Permission) (*domain.Entry, error) {
	model, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeProject(ctx, actor, model.ProjectID, perm); err != nil {
		return nil, err
	}
	return model, nil
}

func normaliseContent(raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return datatypes.JSON("{}"), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, invalidInput("content must be valid JSON")
	}
	return datatypes.JSON(trimmed), nil
}

func encodeLabels(labels []string) (datatypes.JSON, error) {
	seen := make(map[string]struct{}, len(labels))
	clean := make([]string, 0, len(labels))
	for _, label := range labels {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		clean = append(clean, trimmed)
	}
	encoded, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}
	return datatypes.JSON(encoded), nil
}

func toEntry(item domain.Entry) (Entry, error) {
	labels := []string{}
	if len(item.Labels) > 0 {
		if err := json.Unmarshal(item.Labels, &labels); err != nil {
			return Entry{}, fmt.Errorf("decode labels: %w", err)
		}
	}
	var content json.RawMessage
	if len(item.Content) > 0 {
		content = json.RawMessage(item.Content)
	}
	return Entry{
		ID:                   item.ID,
		ProjectID:            item.ProjectID,
		Status:               item.Status,
		Badge:                item.Badge,
		Title:                item.Title,
		Summary:              item.Summary,
		Content:              content,
		Labels:               labels,
		CoverURL:             item.CoverURL,
		PublishDate:          item.PublishDate,
		ScheduledPublishTime: item.ScheduledPublishTime,
		AuthorID:             item.AuthorID,
		CreatedAt:            item.CreatedAt,
		UpdatedAt:            item.UpdatedAt,
	}, nil
}
