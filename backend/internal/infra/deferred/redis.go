package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix   = "deferred"
	defaultRedisPollSpec = "@every 1s"
	defaultRedisBatch    = 100
)

// RedisOptions 描述 Redis 调度器的 key 前缀、轮询频率与单次批量。
type RedisOptions struct {
	Prefix         string
	PollSpec       string
	BatchSize      int
	HandlerTimeout time.Duration
}

// RedisScheduler 用 Sorted Set 保存到期时间、Hash 保存任务体。
//
//   - <prefix>:due   ZSET  member=task id，score=到期时间（毫秒）
//   - <prefix>:tasks HASH  field=task id，value=Task JSON
//
// 执行与取消都以 ZREM 的返回值为准：谁先把 member 移出 due 集合谁就拥有该任务，
// 因此多个实例同时轮询也只会有一个实例执行，取消成功后任务也不会再被执行。
type RedisScheduler struct {
	*registry

	client   *redis.Client
	dueKey   string
	taskKey  string
	pollSpec string
	batch    int
	periodic *Periodic
	now      func() time.Time
}

// NewRedisScheduler 构造 Redis 调度器，periodic 为 nil 时内部自建。
func NewRedisScheduler(client *redis.Client, periodic *Periodic, opts RedisOptions) *RedisScheduler {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.PollSpec == "" {
		opts.PollSpec = defaultRedisPollSpec
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRedisBatch
	}
	if periodic == nil {
		periodic = NewPeriodic()
	}
	return &RedisScheduler{
		registry: newRegistry("deferred.redis", opts.HandlerTimeout),
		client:   client,
		dueKey:   opts.Prefix + ":due",
		taskKey:  opts.Prefix + ":tasks",
		pollSpec: opts.PollSpec,
		batch:    opts.BatchSize,
		periodic: periodic,
		now:      time.Now,
	}
}

// Schedule 在同一个事务里写入任务体与到期时间。
func (s *RedisScheduler) Schedule(ctx context.Context, kind string, at time.Time, payload any) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("redis scheduler not initialised")
	}
	task, err := newTask(uuid.NewString(), kind, at, payload, s.now())
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode deferred task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.taskKey, task.ID, raw)
	pipe.ZAdd(ctx, s.dueKey, redis.Z{Score: float64(task.RunAt.UnixMilli()), Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue deferred task: %w", err)
	}
	return task.ID, nil
}

// Cancel 将任务移出 due 集合；返回 0 说明任务已被某个实例领取或早已不存在。
func (s *RedisScheduler) Cancel(ctx context.Context, taskID string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis scheduler not initialised")
	}
	if taskID == "" {
		return ErrTaskGone
	}
	removed, err := s.client.ZRem(ctx, s.dueKey, taskID).Result()
	if err != nil {
		return fmt.Errorf("cancel deferred task: %w", err)
	}
	if removed == 0 {
		return ErrTaskGone
	}
	if err := s.client.HDel(ctx, s.taskKey, taskID).Err(); err != nil {
		s.logger.Warnw("drop cancelled task body failed", "task_id", taskID, "error", err)
	}
	return nil
}

// Start 注册轮询 job 并启动 cron。
func (s *RedisScheduler) Start(ctx context.Context) error {
	if err := s.periodic.Add("deferred.redis.poll", s.pollSpec, func(ctx context.Context) error {
		_, err := s.RunDue(ctx)
		return err
	}); err != nil {
		return err
	}
	s.periodic.Start(ctx)
	s.logger.Infow("redis scheduler started", "due_key", s.dueKey, "poll", s.pollSpec)
	return nil
}

// Stop 停止轮询，未到期任务保留在 Redis 中，下次启动后继续执行。
func (s *RedisScheduler) Stop(ctx context.Context) error {
	return s.periodic.Stop(ctx)
}

// RunDue 领取并执行所有已到期任务，返回本轮执行的任务数量。
func (s *RedisScheduler) RunDue(ctx context.Context) (int, error) {
	executed := 0
	for {
		ids, err := s.client.ZRangeByScore(ctx, s.dueKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(s.now().UnixMilli(), 10),
			Count: int64(s.batch),
		}).Result()
		if err != nil {
			return executed, fmt.Errorf("list due tasks: %w", err)
		}
		if len(ids) == 0 {
			return executed, nil
		}

		failed := 0
		for _, id := range ids {
			task, claimed, err := s.claim(ctx, id)
			if err != nil {
				s.logger.Warnw("claim deferred task failed", "task_id", id, "error", err)
				failed++
				continue
			}
			if !claimed {
				continue
			}
			_ = s.dispatch(ctx, task)
			executed++
		}

		if len(ids) < s.batch || failed == len(ids) {
			return executed, nil
		}
	}
}

// Pending 返回尚未到期或尚未领取的任务数量。
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.dueKey).Result()
}

func (s *RedisScheduler) claim(ctx context.Context, id string) (Task, bool, error) {
	removed, err := s.client.ZRem(ctx, s.dueKey, id).Result()
	if err != nil {
		return Task{}, false, err
	}
	if removed == 0 {
		return Task{}, false, nil
	}

	raw, err := s.client.HGet(ctx, s.taskKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, fmt.Errorf("task body missing")
	}
	if err != nil {
		return Task{}, false, err
	}
	if err := s.client.HDel(ctx, s.taskKey, id).Err(); err != nil {
		s.logger.Warnw("drop claimed task body failed", "task_id", id, "error", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return Task{}, false, fmt.Errorf("decode deferred task: %w", err)
	}
	return task, true, nil
}
