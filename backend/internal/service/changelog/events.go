package changelog

import (
	"context"
	"time"

	domain "releasedock/backend/internal/domain/changelog"
)

// EventType 是对外推送的事件类型。
type EventType string

const (
	EventEntryPublished   EventType = "entry.published"
	EventEntryUnpublished EventType = "entry.unpublished"
)

// Event 在日志上线或下线时推送给实时订阅方（公开页、嵌入组件）。
type Event struct {
	Type        EventType  `json:"type"`
	ProjectID   string     `json:"project_id"`
	EntryID     string     `json:"entry_id"`
	Title       string     `json:"title,omitempty"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// Notifier 接收生命周期事件，实现方不得阻塞调用方。
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}

func (s *Service) notify(ctx context.Context, eventType EventType, entry *domain.Entry) {
	s.notifier.Notify(ctx, Event{
		Type:        eventType,
		ProjectID:   entry.ProjectID,
		EntryID:     entry.ID,
		Title:       entry.Title,
		PublishDate: entry.PublishDate,
		OccurredAt:  s.now(),
	})
}
