/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 19:55:11
 * @FilePath: \releasedock\backend\cmd\server\main.go
 * @LastEditTime: 2025-11-04 23:40:02
 */
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"releasedock/backend/internal/app"
	"releasedock/backend/internal/bootstrap"
	appLogger "releasedock/backend/internal/infra/logger"
	"releasedock/backend/internal/infra/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := appLogger.Init(); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer appLogger.Sync()
	logger := appLogger.S().With("component", "main")

	metrics.MustRegister()

	resources, err := app.InitResources(ctx)
	if err != nil {
		logger.Fatalw("init resources failed", "error", err)
	}
	defer func() {
		if err := resources.Close(); err != nil {
			logger.Warnw("resource cleanup error", "error", err)
		}
	}()

	application, err := bootstrap.BuildApplication(ctx, appLogger.S().With("component", "bootstrap"), resources)
	if err != nil {
		logger.Fatalw("build application failed", "error", err)
	}
	if err := application.Start(ctx); err != nil {
		logger.Fatalw("start application failed", "error", err)
	}

	cfg := resources.Config.Server
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: application.Router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", srv.Addr, "mode", resources.Config.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Errorw("http server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown error", "error", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("application shutdown error", "error", err)
	}
	logger.Infow("server exited")
}
