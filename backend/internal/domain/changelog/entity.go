/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-12 11:02:00
 * @FilePath: \releasedock\backend\internal\domain\changelog\entity.go
 * @LastEditTime: 2025-11-03 16:20:41
 */
package changelog

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Status 表示日志条目的发布状态。
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
)

// Valid 判断状态是否属于三种合法取值之一。
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished:
		return true
	default:
		return false
	}
}

// ParseStatus 解析外部传入的状态字符串，空串返回 false。
func ParseStatus(raw string) (Status, bool) {
	status := Status(raw)
	return status, status.Valid()
}

// Entry 对应项目下的一条更新日志，生命周期字段只允许发布状态机写入。
type Entry struct {
	ID                   string         `gorm:"primaryKey;size:36" json:"id"`
	ProjectID            string         `gorm:"size:64;not null;index:idx_changelog_project_status,priority:1" json:"project_id"`
	Status               Status         `gorm:"size:16;not null;default:draft;index:idx_changelog_project_status,priority:2" json:"status"`
	Badge                string         `gorm:"size:64" json:"badge"`
	Title                string         `gorm:"size:255" json:"title"`
	Summary              string         `gorm:"type:text" json:"summary"`
	Content              datatypes.JSON `gorm:"type:json" json:"content"` // 编辑器块数据，服务端不解析
	Labels               datatypes.JSON `gorm:"type:json" json:"labels"`
	CoverURL             string         `gorm:"size:512" json:"cover_url"`
	PublishDate          *time.Time     `gorm:"index" json:"publish_date"`
	ScheduledPublishTime *time.Time     `gorm:"index" json:"scheduled_publish_time"`
	DeferredTaskID       *string        `gorm:"size:64" json:"-"`
	LifecycleVersion     uint           `gorm:"not null;default:0" json:"-"`
	AuthorID             *uint          `json:"author_id"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// TableName 指定数据库表名。
func (Entry) TableName() string {
	return "changelog_entries"
}

// HasPendingTask 表示当前记录上挂着尚未确认失效的延时任务。
func (e *Entry) HasPendingTask() bool {
	return e.DeferredTaskID != nil && *e.DeferredTaskID != ""
}

// CheckInvariants 校验状态与调度字段之间的一致性。
func (e *Entry) CheckInvariants() error {
	if !e.Status.Valid() {
		return fmt.Errorf("entry %s: invalid status %q", e.ID, e.Status)
	}
	scheduled := e.Status == StatusScheduled
	if scheduled != (e.ScheduledPublishTime != nil) {
		return fmt.Errorf("entry %s: scheduled_publish_time present=%t with status %s", e.ID, e.ScheduledPublishTime != nil, e.Status)
	}
	if scheduled != e.HasPendingTask() {
		return fmt.Errorf("entry %s: deferred task present=%t with status %s", e.ID, e.HasPendingTask(), e.Status)
	}
	if e.Status == StatusPublished && e.PublishDate == nil {
		return fmt.Errorf("entry %s: published without publish_date", e.ID)
	}
	return nil
}

// LifecyclePatch 描述一次状态迁移需要落库的生命周期字段。
// PublishDate 为 nil 时保持原值不变。
type LifecyclePatch struct {
	Status               Status
	ScheduledPublishTime *time.Time
	DeferredTaskID       *string
	PublishDate          *time.Time
}

// Apply 把迁移结果写回内存对象，便于调用方直接返回最新视图。
func (p LifecyclePatch) Apply(e *Entry, now time.Time) {
	e.Status = p.Status
	e.ScheduledPublishTime = p.ScheduledPublishTime
	e.DeferredTaskID = p.DeferredTaskID
	if p.PublishDate != nil {
		e.PublishDate = p.PublishDate
	}
	e.LifecycleVersion++
	if now.After(e.UpdatedAt) {
		e.UpdatedAt = now
	}
}
