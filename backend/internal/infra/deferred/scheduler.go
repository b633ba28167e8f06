// Package deferred 提供“在指定时间之后执行一次”的延时任务能力。
//
// 约定：
//   - Schedule 返回的 task id 即任务句柄，调用方自行保存；
//   - 任务在 RunAt 之后至多执行一次，Cancel 成功后保证不会再执行；
//   - Cancel 遇到已执行/已取消/未知任务时返回 ErrTaskGone，调用方按需忽略；
//   - Handler 返回的错误只会被记录日志，调度器不做重试。
package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/infra/metrics"

	"go.uber.org/zap"
)

var (
	// ErrTaskGone 表示任务已经触发、已被取消或根本不存在。
	ErrTaskGone = errors.New("deferred task already fired or cancelled")
	// ErrNoHandler 表示任务类型没有注册处理函数。
	ErrNoHandler = errors.New("no handler registered for task kind")
	// ErrSchedulerStopped 表示调度器已经停止，不再接受新任务。
	ErrSchedulerStopped = errors.New("deferred scheduler stopped")
)

const defaultHandlerTimeout = 30 * time.Second

// Task 是落到调度器中的一条延时任务。
type Task struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	RunAt     time.Time       `json:"run_at"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode 将任务负载解析到 v。
func (t Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has empty payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode task %s payload: %w", t.ID, err)
	}
	return nil
}

// HandlerFunc 在任务到期后被调用。
type HandlerFunc func(ctx context.Context, task Task) error

// Scheduler 抽象延时任务调度器，内存实现用于本地与测试，Redis 实现用于线上多实例。
type Scheduler interface {
	Schedule(ctx context.Context, kind string, at time.Time, payload any) (string, error)
	Cancel(ctx context.Context, taskID string) error
	Handle(kind string, handler HandlerFunc)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func newTask(id, kind string, at time.Time, payload any, now time.Time) (Task, error) {
	if kind == "" {
		return Task{}, fmt.Errorf("task kind required")
	}
	if at.IsZero() {
		return Task{}, fmt.Errorf("task run_at required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode task payload: %w", err)
	}
	return Task{
		ID:        id,
		Kind:      kind,
		RunAt:     at.UTC(),
		Payload:   raw,
		CreatedAt: now.UTC(),
	}, nil
}

// registry 保存 kind -> handler 映射，并负责统一的执行、超时与异常兜底。
type registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

func newRegistry(component string, timeout time.Duration) *registry {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &registry{
		handlers: make(map[string]HandlerFunc),
		timeout:  timeout,
		logger:   appLogger.S().With("component", component),
	}
}

// Handle 注册任务处理函数，重复注册会覆盖旧值。
func (r *registry) Handle(kind string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

func (r *registry) lookup(kind string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[kind]
	return handler, ok
}

// dispatch 执行任务，错误只记录不重试。
func (r *registry) dispatch(ctx context.Context, task Task) (err error) {
	handler, ok := r.lookup(task.Kind)
	if !ok {
		r.logger.Errorw("deferred task dropped", "task_id", task.ID, "kind", task.Kind, "error", ErrNoHandler)
		metrics.RecordDeferredTask(task.Kind, "no_handler")
		return ErrNoHandler
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("deferred task panic: %v", rec)
		}
		if err != nil {
			r.logger.Errorw("deferred task failed", "task_id", task.ID, "kind", task.Kind, "run_at", task.RunAt, "error", err)
			metrics.RecordDeferredTask(task.Kind, "failed")
			return
		}
		r.logger.Debugw("deferred task done", "task_id", task.ID, "kind", task.Kind, "lag", started.Sub(task.RunAt), "took", time.Since(started))
		metrics.RecordDeferredTask(task.Kind, "succeeded")
	}()

	return handler(runCtx, task)
}
