package changelog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "releasedock/backend/internal/domain/changelog"
	"releasedock/backend/internal/infra/deferred"
	"releasedock/backend/internal/infra/metrics"
)

const (
	outcomePublished = "published"
	outcomeStale     = "stale"
	outcomeError     = "error"

	sweepBatchSize = 100
)

// HandlerRegistrar 是调度器注册回调的能力，deferred.Scheduler 满足该接口。
type HandlerRegistrar interface {
	Handle(kind string, handler deferred.HandlerFunc)
}

// RegisterHandlers 把定时发布回调挂到调度器上。
func (s *Service) RegisterHandlers(registrar HandlerRegistrar) {
	registrar.Handle(PublishTaskKind, s.HandleScheduledPublish)
}

// HandleScheduledPublish 由调度器在到期后调用，没有调用者身份，也不做权限校验。
// 记录不存在、已不处于 scheduled、或已被新的排期取代时直接返回 nil。
func (s *Service) HandleScheduledPublish(ctx context.Context, task deferred.Task) error {
	var payload PublishTaskPayload
	if err := task.Decode(&payload); err != nil {
		metrics.RecordScheduledPublish(outcomeError)
		return err
	}
	if strings.TrimSpace(payload.EntryID) == "" {
		metrics.RecordScheduledPublish(outcomeError)
		return fmt.Errorf("task %s: empty entry_id", task.ID)
	}

	_, err := s.publishScheduled(ctx, payload.EntryID, task.ID)
	return err
}

// publishScheduled 把一条仍处于 scheduled 的日志发布出去，publish_date 取计划时间。
// taskID 为空时跳过任务句柄比对（补偿扫描使用）。返回值表示本次是否完成了发布。
func (s *Service) publishScheduled(ctx context.Context, entryID, taskID string) (bool, error) {
	current, err := s.load(ctx, entryID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			s.skipStale(entryID, taskID, "entry deleted")
			return false, nil
		}
		metrics.RecordScheduledPublish(outcomeError)
		return false, err
	}

	if current.Status != domain.StatusScheduled {
		s.skipStale(entryID, taskID, "status is "+string(current.Status))
		return false, nil
	}
	if taskID != "" && (!current.HasPendingTask() || *current.DeferredTaskID != taskID) {
		s.skipStale(entryID, taskID, "superseded by a newer schedule")
		return false, nil
	}

	now := s.now()
	patch := domain.LifecyclePatch{Status: domain.StatusPublished}
	// 曾经发布过的日志保留首次发布日期，不用计划时间覆盖。
	if current.PublishDate == nil {
		publishedAt := now
		if current.ScheduledPublishTime != nil {
			publishedAt = current.ScheduledPublishTime.UTC()
		}
		patch.PublishDate = &publishedAt
	}

	ok, err := s.entries.CompareAndSetLifecycle(ctx, current.ID, domain.StatusScheduled, current.LifecycleVersion, patch, now)
	if err != nil {
		metrics.RecordScheduledPublish(outcomeError)
		metrics.RecordTransition(transitionScheduledPublish, "error")
		return false, fmt.Errorf("persist scheduled publish: %w", err)
	}
	if !ok {
		s.skipStale(entryID, taskID, "concurrent lifecycle write won")
		return false, nil
	}

	patch.Apply(current, now)
	metrics.RecordScheduledPublish(outcomePublished)
	metrics.RecordTransition(transitionScheduledPublish, "ok")
	s.logger.Infow("scheduled entry published", "entry_id", current.ID, "task_id", taskID, "publish_date", current.PublishDate)
	s.notify(ctx, EventEntryPublished, current)
	return true, nil
}

func (s *Service) skipStale(entryID, taskID, reason string) {
	metrics.RecordScheduledPublish(outcomeStale)
	s.logger.Infow("scheduled publish skipped", "entry_id", entryID, "task_id", taskID, "reason", reason)
}

// SweepOverdue 补偿发布计划时间早于 now-grace 仍停留在 scheduled 的日志。
// 覆盖任务已触发但状态写入前进程退出、或任务存储丢失的情况。
func (s *Service) SweepOverdue(ctx context.Context, grace time.Duration) (int, error) {
	if grace < 0 {
		grace = 0
	}
	cutoff := s.now().Add(-grace)

	published := 0
	for {
		overdue, err := s.entries.ListOverdueScheduled(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return published, fmt.Errorf("list overdue entries: %w", err)
		}

		progressed := 0
		for _, entry := range overdue {
			ok, err := s.publishScheduled(ctx, entry.ID, "")
			if err != nil {
				s.logger.Warnw("overdue publish failed", "entry_id", entry.ID, "error", err)
				continue
			}
			if ok {
				progressed++
				if entry.HasPendingTask() {
					s.cancelTask(ctx, entry.ID, *entry.DeferredTaskID)
				}
			}
		}
		published += progressed

		if len(overdue) < sweepBatchSize || progressed == 0 {
			break
		}
	}

	if published > 0 {
		s.logger.Infow("overdue scheduled entries published", "count", published, "cutoff", cutoff)
	}
	return published, nil
}
