package deferred

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appLogger "releasedock/backend/internal/infra/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Periodic 用 robfig/cron 承载周期性后台任务（Redis 轮询、过期排期巡检等）。
// 同一个 job 上一轮未结束时本轮直接跳过，避免堆积。
type Periodic struct {
	mu      sync.Mutex
	parser  cron.Parser
	c       *cron.Cron
	baseCtx context.Context
	logger  *zap.SugaredLogger
	jobs    []periodicJob
}

type periodicJob struct {
	name string
	spec string
	fn   func(ctx context.Context) error
}

// NewPeriodic 构造周期任务执行器。
func NewPeriodic() *Periodic {
	logger := appLogger.S().With("component", "deferred.periodic")
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Periodic{
		parser:  parser,
		baseCtx: context.Background(),
		logger:  logger,
	}
}

// Add 注册周期任务；spec 支持 5/6 段 cron 表达式以及 "@every 1s" 这类描述符。
func (p *Periodic) Add(name, spec string, fn func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" {
		return fmt.Errorf("periodic job name required")
	}
	if _, err := p.parser.Parse(spec); err != nil {
		return fmt.Errorf("parse periodic spec %q: %w", spec, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	job := periodicJob{name: name, spec: spec, fn: fn}
	p.jobs = append(p.jobs, job)
	if p.c != nil {
		return p.registerLocked(job)
	}
	return nil
}

// Start 启动 cron，ctx 取消不会中断已启动的 cron，需调用 Stop。
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return
	}
	p.baseCtx = context.WithoutCancel(ctx)
	cronLog := cronLogger{logger: p.logger}
	p.c = cron.New(
		cron.WithParser(p.parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		cron.WithLogger(cronLog),
	)
	for _, job := range p.jobs {
		if err := p.registerLocked(job); err != nil {
			p.logger.Errorw("periodic job register failed", "name", job.name, "spec", job.spec, "error", err)
		}
	}
	p.c.Start()
	p.logger.Infow("periodic jobs started", "jobs", len(p.jobs))
}

// Stop 停止 cron 并等待正在执行的 job 结束。
func (p *Periodic) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Periodic) registerLocked(job periodicJob) error {
	ctx := p.baseCtx
	logger := p.logger
	_, err := p.c.AddFunc(job.spec, func() {
		if err := job.fn(ctx); err != nil {
			logger.Warnw("periodic job failed", "name", job.name, "error", err)
		}
	})
	return err
}

// cronLogger 把 robfig/cron 的日志接口桥接到 zap。
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
