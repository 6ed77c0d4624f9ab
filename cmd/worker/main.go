// Package main runs the background worker: notification fanout and scheduled maintenance jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mariantrack/backend/config"
	"github.com/mariantrack/backend/internal/approvals"
	"github.com/mariantrack/backend/internal/auth"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/notifications"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/internal/scheduler"
	"github.com/mariantrack/backend/internal/worker"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/logger"
	"github.com/mariantrack/backend/pkg/queue"
	"github.com/mariantrack/backend/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).Fatal("load config", zap.Error(err))
	}
	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Publish only; connected clients receive events through the servers' subscriptions.
	hub := realtime.NewHub(log, realtime.NewRedisPubSub(rdb.Client, log), nil, nil)

	authRepo := auth.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, log)
	notificationSvc := notifications.NewService(notifications.NewRepository(pool), hub, jobQueue, log)
	approvalSvc := approvals.NewService(authRepo, notificationSvc, approvals.NewRedisThrottle(rdb.Client), hub,
		identity.NewCache(authRepo, identity.DefaultTTL), time.Duration(cfg.Jobs.PendingThrottleMinutes)*time.Minute, log)

	jobs, err := scheduler.NewManager(approvalSvc, notificationSvc, scheduler.Options{
		PendingBacklogEvery: time.Duration(cfg.Jobs.PendingBacklogMinutes) * time.Minute,
		RetentionEvery:      24 * time.Hour,
		Retention:           time.Duration(cfg.Jobs.NotificationRetentionDays) * 24 * time.Hour,
	}, log)
	if err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	if err := jobs.RegisterJobs(); err != nil {
		log.Fatal("register jobs", zap.Error(err))
	}
	jobs.Start()

	processor := worker.NewFanoutProcessor(jobQueue, notificationSvc, log)
	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := max(cfg.Jobs.FanoutWorkers, 1)
	for i := 0; i < workers; i++ {
		go processor.Run(workerCtx)
	}
	log.Info("worker started", zap.Int("fanout_workers", workers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	jobs.Stop()
	time.Sleep(2 * time.Second)
	log.Info("worker stopped")
}
