/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-12 11:10:05
 * @FilePath: \releasedock\backend\internal\repository\changelog_repository.go
 * @LastEditTime: 2025-11-03 17:02:15
 */
package repository

import (
	"context"
	"fmt"
	"time"

	"releasedock/backend/internal/domain/changelog"

	"gorm.io/gorm"
)

// contentColumns 是内容编辑路径允许写入的列，生命周期相关列不在其中。
var contentColumns = map[string]struct{}{
	"badge":     {},
	"title":     {},
	"summary":   {},
	"content":   {},
	"labels":    {},
	"cover_url": {},
}

// ChangelogListFilter 描述按项目检索日志时的过滤与分页条件。
type ChangelogListFilter struct {
	ProjectID string
	Status    changelog.Status // 为空表示不过滤状态
	Limit     int
	Offset    int
}

// ChangelogRepository 提供 changelog_entries 表的 CRUD 封装。
type ChangelogRepository struct {
	db *gorm.DB
}

// NewChangelogRepository 构造仓储实例。
func NewChangelogRepository(db *gorm.DB) *ChangelogRepository {
	return &ChangelogRepository{db: db}
}

// FindByID 根据主键查找日志记录。
func (r *ChangelogRepository) FindByID(ctx context.Context, id string) (*changelog.Entry, error) {
	var entry changelog.Entry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Create 新增日志记录。
func (r *ChangelogRepository) Create(ctx context.Context, entry *changelog.Entry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// UpdateContent 只更新内容列，status/publish_date/scheduled_publish_time/deferred_task_id
// 以及 lifecycle_version 都不会被触碰，和发布流程并发执行时互不干扰。
func (r *ChangelogRepository) UpdateContent(ctx context.Context, id string, fields map[string]any, now time.Time) error {
	updates := make(map[string]any, len(fields)+1)
	for column, value := range fields {
		if _, ok := contentColumns[column]; !ok {
			return fmt.Errorf("column %q is not a content column", column)
		}
		updates[column] = value
	}
	updates["updated_at"] = now

	result := r.db.WithContext(ctx).
		Model(&changelog.Entry{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

// CompareAndSetLifecycle 在 (id, status, lifecycle_version) 与预期一致时写入迁移结果。
// 返回 false 表示记录已被其他写入方修改（或已删除），调用方需要重新读取后再决策。
func (r *ChangelogRepository) CompareAndSetLifecycle(ctx context.Context, id string, expectStatus changelog.Status, expectVersion uint, patch changelog.LifecyclePatch, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":                 patch.Status,
		"scheduled_publish_time": nullableTime(patch.ScheduledPublishTime),
		"deferred_task_id":       nullableString(patch.DeferredTaskID),
		"lifecycle_version":      gorm.Expr("lifecycle_version + 1"),
		"updated_at":             now,
	}
	if patch.PublishDate != nil {
		updates["publish_date"] = *patch.PublishDate
	}

	result := r.db.WithContext(ctx).
		Model(&changelog.Entry{}).
		Where("id = ? AND status = ? AND lifecycle_version = ?", id, expectStatus, expectVersion).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByProject 按项目（可选状态）列出日志，排序规则随状态变化：
// 已发布按发布时间倒序，已排期按计划时间正序，其余按最近修改倒序。
func (r *ChangelogRepository) ListByProject(ctx context.Context, filter ChangelogListFilter) ([]changelog.Entry, error) {
	var entries []changelog.Entry

	query := r.db.WithContext(ctx).
		Model(&changelog.Entry{}).
		Where("project_id = ?", filter.ProjectID)

	switch filter.Status {
	case changelog.StatusPublished:
		query = query.Where("status = ?", filter.Status).Order("publish_date DESC, id DESC")
	case changelog.StatusScheduled:
		query = query.Where("status = ?", filter.Status).Order("scheduled_publish_time ASC, id ASC")
	case changelog.StatusDraft:
		query = query.Where("status = ?", filter.Status).Order("updated_at DESC, id DESC")
	default:
		query = query.Order("updated_at DESC, id DESC")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByProject 统计项目下（可选状态）的日志数量，用于分页。
func (r *ChangelogRepository) CountByProject(ctx context.Context, projectID string, status changelog.Status) (int64, error) {
	var total int64
	query := r.db.WithContext(ctx).
		Model(&changelog.Entry{}).
		Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// ListOverdueScheduled 返回计划时间早于 before 仍处于 scheduled 的记录。
func (r *ChangelogRepository) ListOverdueScheduled(ctx context.Context, before time.Time, limit int) ([]changelog.Entry, error) {
	var entries []changelog.Entry
	query := r.db.WithContext(ctx).
		Model(&changelog.Entry{}).
		Where("status = ? AND scheduled_publish_time <= ?", changelog.StatusScheduled, before).
		Order("scheduled_publish_time ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete 删除指定日志。
func (r *ChangelogRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&changelog.Entry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ensureExists 区分“记录不存在”和 MySQL 在值未变化时返回 0 行受影响的情况。
func (r *ChangelogRepository) ensureExists(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&changelog.Entry{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
