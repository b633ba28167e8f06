package changelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "releasedock/backend/internal/domain/changelog"
	"releasedock/backend/internal/infra/deferred"
	"releasedock/backend/internal/infra/metrics"
)

// PublishTaskKind 是定时发布任务在调度器中的类型名。
const PublishTaskKind = "changelog.publish"

// maxTransitionAttempts 是 compare-and-set 冲突后重新读取并决策的次数上限。
const maxTransitionAttempts = 3

// 迁移名称，用于日志与指标。
const (
	transitionPublish        = "publish"
	transitionSchedule       = "schedule"
	transitionCancelSchedule = "cancel_schedule"
	transitionUnpublish      = "unpublish"

	transitionScheduledPublish = "scheduled_publish"
)

// PublishTaskPayload 是定时发布任务的负载。
type PublishTaskPayload struct {
	EntryID string `json:"entry_id"`
}

// decision 是一次迁移的计划结果；rollback 用于在写入失败时撤销已经产生的副作用。
// taskID 仅在排期分支非空。
type decision struct {
	name     string
	patch    domain.LifecyclePatch
	taskID   string
	rollback func()
}

type decideFunc func(ctx context.Context, current *domain.Entry, now time.Time) (decision, error)

// RequestPublish 发布或排期一条日志。
//
// scheduledAt 严格晚于当前时间时注册定时任务并进入 scheduled；否则（为空或已过期）立即发布。
// 无论哪个分支，旧的定时任务都会先被尽力取消，取消失败（已触发/已不存在）直接忽略。
func (s *Service) RequestPublish(ctx context.Context, actor Actor, id string, scheduledAt *time.Time) (Entry, error) {
	return s.applyTransition(ctx, actor, id, func(ctx context.Context, current *domain.Entry, now time.Time) (decision, error) {
		if current.HasPendingTask() {
			s.cancelTask(ctx, current.ID, *current.DeferredTaskID)
		}

		if scheduledAt != nil && scheduledAt.After(now) {
			runAt := scheduledAt.UTC()
			taskID, err := s.scheduler.Schedule(ctx, PublishTaskKind, runAt, PublishTaskPayload{EntryID: current.ID})
			if err != nil {
				return decision{}, fmt.Errorf("schedule publish: %w", err)
			}
			return decision{
				name: transitionSchedule,
				patch: domain.LifecyclePatch{
					Status:               domain.StatusScheduled,
					ScheduledPublishTime: &runAt,
					DeferredTaskID:       &taskID,
				},
				taskID:   taskID,
				rollback: func() { s.cancelTask(context.WithoutCancel(ctx), current.ID, taskID) },
			}, nil
		}

		if scheduledAt != nil {
			s.logger.Infow("scheduled time not in the future, publishing immediately", "entry_id", current.ID, "scheduled_at", scheduledAt, "now", now)
		}
		return decision{
			name:  transitionPublish,
			patch: publishPatch(current, now),
		}, nil
	})
}

// CancelSchedule 取消排期，日志回到草稿。
func (s *Service) CancelSchedule(ctx context.Context, actor Actor, id string) (Entry, error) {
	return s.applyTransition(ctx, actor, id, func(ctx context.Context, current *domain.Entry, _ time.Time) (decision, error) {
		if current.Status != domain.StatusScheduled {
			return decision{}, &InvalidStateError{Transition: transitionCancelSchedule, Current: current.Status, Required: domain.StatusScheduled}
		}
		if current.HasPendingTask() {
			s.cancelTask(ctx, current.ID, *current.DeferredTaskID)
		}
		return decision{
			name:  transitionCancelSchedule,
			patch: domain.LifecyclePatch{Status: domain.StatusDraft},
		}, nil
	})
}

// Unpublish 下线已发布的日志，publish_date 保留不变。
func (s *Service) Unpublish(ctx context.Context, actor Actor, id string) (Entry, error) {
	return s.applyTransition(ctx, actor, id, func(_ context.Context, current *domain.Entry, _ time.Time) (decision, error) {
		if current.Status != domain.StatusPublished {
			return decision{}, &InvalidStateError{Transition: transitionUnpublish, Current: current.Status, Required: domain.StatusPublished}
		}
		return decision{
			name:  transitionUnpublish,
			patch: domain.LifecyclePatch{Status: domain.StatusDraft},
		}, nil
	})
}

// applyTransition 读取最新状态 -> 决策 -> 以 (status, lifecycle_version) 为条件写入。
// 写入落空说明有并发的生命周期写入（手动操作或定时回调）抢先完成，此时基于新状态重新决策。
func (s *Service) applyTransition(ctx context.Context, actor Actor, id string, decide decideFunc) (Entry, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := s.loadAuthorized(ctx, actor, id, PermissionWrite)
		if err != nil {
			return Entry{}, err
		}

		now := s.now()
		plan, err := decide(ctx, current, now)
		if err != nil {
			var stateErr *InvalidStateError
			if errors.As(err, &stateErr) {
				metrics.RecordTransition(stateErr.Transition, "rejected")
			}
			return Entry{}, err
		}

		previous := current.Status
		ok, err := s.entries.CompareAndSetLifecycle(ctx, current.ID, current.Status, current.LifecycleVersion, plan.patch, now)
		if err != nil {
			if plan.rollback != nil {
				plan.rollback()
			}
			metrics.RecordTransition(plan.name, "error")
			if current.HasPendingTask() {
				s.logger.Warnw("lifecycle write failed after cancelling the outstanding task, overdue sweep will publish it",
					"entry_id", current.ID, "transition", plan.name, "task_id", *current.DeferredTaskID, "scheduled_at", current.ScheduledPublishTime, "error", err)
			}
			return Entry{}, fmt.Errorf("persist %s: %w", plan.name, err)
		}
		if !ok {
			if plan.rollback != nil {
				plan.rollback()
			}
			metrics.RecordTransition(plan.name, "conflict")
			s.logger.Infow("lifecycle write lost the race, re-reading", "entry_id", id, "transition", plan.name, "attempt", attempt)
			continue
		}

		plan.patch.Apply(current, now)
		metrics.RecordTransition(plan.name, "ok")
		s.logger.Infow("lifecycle transition applied", "entry_id", current.ID, "transition", plan.name, "from", previous, "to", current.Status)
		s.emitTransition(ctx, previous, current)

		if plan.taskID != "" && !s.now().Before(*plan.patch.ScheduledPublishTime) {
			return s.publishIfFiredEarly(ctx, current, plan.taskID)
		}
		return toEntry(*current)
	}
	return Entry{}, ErrConcurrentModification
}

// publishIfFiredEarly 处理排期时间已到、任务可能在状态写入之前就被触发并按过期处理的情况。
// 任务回调与这里以任务句柄和 CAS 互斥，最终只会发布一次。
func (s *Service) publishIfFiredEarly(ctx context.Context, current *domain.Entry, taskID string) (Entry, error) {
	published, err := s.publishScheduled(ctx, current.ID, taskID)
	if err != nil {
		s.logger.Warnw("inline scheduled publish failed, overdue sweep will retry", "entry_id", current.ID, "task_id", taskID, "error", err)
		return toEntry(*current)
	}
	if published {
		s.cancelTask(ctx, current.ID, taskID)
	}
	latest, err := s.load(ctx, current.ID)
	if err != nil {
		return Entry{}, err
	}
	return toEntry(*latest)
}

// cancelTask 尽力取消定时任务；任务已触发或已消失属于正常竞争，调用方不感知任何错误。
func (s *Service) cancelTask(ctx context.Context, entryID, taskID string) {
	if taskID == "" {
		return
	}
	err := s.scheduler.Cancel(ctx, taskID)
	switch {
	case err == nil:
		return
	case errors.Is(err, deferred.ErrTaskGone):
		metrics.RecordCancelRace()
		s.logger.Debugw("deferred task already gone", "entry_id", entryID, "task_id", taskID)
	default:
		s.logger.Warnw("cancel deferred task failed, relying on handler state guard", "entry_id", entryID, "task_id", taskID, "error", err)
	}
}

func (s *Service) emitTransition(ctx context.Context, previous domain.Status, entry *domain.Entry) {
	switch {
	case entry.Status == domain.StatusPublished && previous != domain.StatusPublished:
		s.notify(ctx, EventEntryPublished, entry)
	case previous == domain.StatusPublished && entry.Status != domain.StatusPublished:
		s.notify(ctx, EventEntryUnpublished, entry)
	}
}

// publishPatch 立即发布：publish_date 首次发布时写入，之后保持不变。
func publishPatch(current *domain.Entry, now time.Time) domain.LifecyclePatch {
	patch := domain.LifecyclePatch{Status: domain.StatusPublished}
	if current.PublishDate == nil {
		publishedAt := now
		patch.PublishDate = &publishedAt
	}
	return patch
}
