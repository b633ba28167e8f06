/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-09 20:51:28
 * @FilePath: \releasedock\backend\internal\bootstrap\bootstrap.go
 * @LastEditTime: 2025-11-04 23:28:40
 */
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"releasedock/backend/internal/app"
	"releasedock/backend/internal/handler"
	"releasedock/backend/internal/infra/deferred"
	"releasedock/backend/internal/infra/ratelimit"
	"releasedock/backend/internal/infra/realtime"
	"releasedock/backend/internal/middleware"
	"releasedock/backend/internal/repository"
	"releasedock/backend/internal/server"
	changelogsvc "releasedock/backend/internal/service/changelog"

	"go.uber.org/zap"
)

const sweepJobName = "changelog.sweep_overdue"

// Application 持有装配完成的服务、后台组件与 HTTP 路由。
type Application struct {
	Resources    *app.Resources
	ChangelogSvc *changelogsvc.Service
	Scheduler    deferred.Scheduler
	Periodic     *deferred.Periodic
	Hub          *realtime.Hub
	Router       http.Handler

	logger     *zap.SugaredLogger
	stopHub    context.CancelFunc
	hubStopped chan struct{}
}

// BuildApplication 根据运行模式装配依赖：在线模式用 Redis 调度与限流，本地模式全部在进程内。
func BuildApplication(ctx context.Context, logger *zap.SugaredLogger, resources *app.Resources) (*Application, error) {
	cfg := resources.Config.Server

	periodic := deferred.NewPeriodic()
	var (
		scheduler deferred.Scheduler
		limiter   ratelimit.Limiter
	)
	if resources.Redis != nil {
		scheduler = deferred.NewRedisScheduler(resources.Redis, periodic, deferred.RedisOptions{
			Prefix:   "releasedock:deferred",
			PollSpec: cfg.SchedulerPollSpec,
		})
		limiter = ratelimit.NewRedisLimiter(resources.Redis, "releasedock:ratelimit")
	} else {
		scheduler = deferred.NewMemoryScheduler(0)
		limiter = ratelimit.NewMemoryLimiter()
		logger.Infow("using in-memory scheduler; future schedules are recovered by the overdue sweep after restart")
	}

	hub := realtime.NewHub()
	members := repository.NewProjectMemberRepository(resources.DB)
	service := changelogsvc.NewService(
		repository.NewChangelogRepository(resources.DB),
		scheduler,
		changelogsvc.NewProjectAccess(members),
		changelogsvc.Options{Notifier: handler.NewLiveNotifier(hub)},
	)
	service.RegisterHandlers(scheduler)

	grace := cfg.SweepGrace
	if err := periodic.Add(sweepJobName, cfg.SchedulerSweepSpec, func(ctx context.Context) error {
		recovered, err := service.SweepOverdue(ctx, grace)
		if recovered > 0 {
			logger.Infow("overdue scheduled entries published", "count", recovered)
		}
		return err
	}); err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}

	router := server.NewRouter(server.RouterOptions{
		ChangelogHandler:       handler.NewChangelogHandler(service),
		PublicChangelogHandler: handler.NewPublicChangelogHandler(service, hub, cfg.PublicFeedLimit),
		AuthMW:                 middleware.NewAuthenticator(resources.Config.RuntimeFlags(), cfg.JWTSecret),
		PublicRateLimit: middleware.NewRateLimitMiddleware(limiter, middleware.RateLimitConfig{
			Enabled:     cfg.PublicRateLimit > 0,
			Scope:       "public",
			Window:      cfg.PublicRateWindow,
			MaxRequests: cfg.PublicRateLimit,
		}),
		AllowedOrigins: cfg.AllowedOrigins,
		Health: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return resources.Ping(pingCtx)
		},
	})

	return &Application{
		Resources:    resources,
		ChangelogSvc: service,
		Scheduler:    scheduler,
		Periodic:     periodic,
		Hub:          hub,
		Router:       router,
		logger:       logger,
	}, nil
}

// Start 启动实时推送、延时任务调度与周期任务，并立即补偿一次过期排期。
func (a *Application) Start(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopHub = cancel
	a.hubStopped = make(chan struct{})
	go func() {
		defer close(a.hubStopped)
		a.Hub.Run(hubCtx)
	}()

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	// Redis 调度器已经启动了共享的 Periodic，这里重复调用是空操作。
	a.Periodic.Start(ctx)

	recovered, err := a.ChangelogSvc.SweepOverdue(ctx, a.Resources.Config.Server.SweepGrace)
	if err != nil {
		a.logger.Warnw("startup sweep failed", "error", err)
	} else if recovered > 0 {
		a.logger.Infow("startup sweep published overdue entries", "count", recovered)
	}
	return nil
}

// Shutdown 依次停止调度、周期任务与实时推送。
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := a.Periodic.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop periodic: %w", err))
	}
	if a.stopHub != nil {
		a.stopHub()
		select {
		case <-a.hubStopped:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop hub: %w", ctx.Err()))
		}
	}
	return errors.Join(errs...)
}
