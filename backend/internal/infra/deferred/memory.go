package deferred

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryScheduler 基于 time.AfterFunc 实现，进程重启后任务丢失，只适用于本地模式与单元测试。
type MemoryScheduler struct {
	*registry

	mu      sync.Mutex
	pending map[string]*memoryTask
	baseCtx context.Context
	stopped bool
	wg      sync.WaitGroup
	now     func() time.Time
}

type memoryTask struct {
	task  Task
	timer *time.Timer
}

// NewMemoryScheduler 构造内存调度器，handlerTimeout<=0 时使用默认超时。
func NewMemoryScheduler(handlerTimeout time.Duration) *MemoryScheduler {
	return &MemoryScheduler{
		registry: newRegistry("deferred.memory", handlerTimeout),
		pending:  make(map[string]*memoryTask),
		baseCtx:  context.Background(),
		now:      time.Now,
	}
}

// Schedule 注册一次性定时器，到期时间已过的任务会立即触发。
func (s *MemoryScheduler) Schedule(_ context.Context, kind string, at time.Time, payload any) (string, error) {
	task, err := newTask(uuid.NewString(), kind, at, payload, s.now())
	if err != nil {
		return "", err
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrSchedulerStopped
	}
	taskID := task.ID
	entry := &memoryTask{task: task}
	entry.timer = time.AfterFunc(delay, func() { s.fire(taskID) })
	s.pending[taskID] = entry
	return taskID, nil
}

// Cancel 从待执行集合中摘除任务；摘除和触发在同一把锁下竞争，保证两者只有一方成功。
func (s *MemoryScheduler) Cancel(_ context.Context, taskID string) error {
	s.mu.Lock()
	entry, ok := s.pending[taskID]
	if ok {
		delete(s.pending, taskID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrTaskGone
	}
	entry.timer.Stop()
	return nil
}

// Start 记录任务执行时使用的根 context。
func (s *MemoryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.stopped = false
	return nil
}

// Stop 停止所有未触发的定时器并等待执行中的任务结束。
func (s *MemoryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending 返回尚未触发的任务数量。
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *MemoryScheduler) fire(taskID string) {
	s.mu.Lock()
	entry, ok := s.pending[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, taskID)
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	_ = s.dispatch(ctx, entry.task)
}
