// Package main runs the MarianTrack HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/config"
	"github.com/mariantrack/backend/internal/approvals"
	"github.com/mariantrack/backend/internal/auth"
	"github.com/mariantrack/backend/internal/groups"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/messages"
	"github.com/mariantrack/backend/internal/middleware"
	"github.com/mariantrack/backend/internal/notifications"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/internal/requests"
	"github.com/mariantrack/backend/internal/worker"
	"github.com/mariantrack/backend/internal/workplan"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/logger"
	"github.com/mariantrack/backend/pkg/queue"
	"github.com/mariantrack/backend/pkg/redis"
	"github.com/mariantrack/backend/pkg/response"
	"github.com/mariantrack/backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool, log); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var images groups.ImageStore
	if cfg.AWS.Region != "" && cfg.AWS.ImagesBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ImagesBucket:    cfg.AWS.ImagesBucket,
			PublicBaseURL:   cfg.AWS.PublicBaseURL,
		}, log)
		if err != nil {
			log.Warn("s3 disabled", zap.Error(err))
		} else {
			images = s3Client
		}
	}

	dispatch, err := ants.NewPool(256)
	if err != nil {
		log.Fatal("dispatch pool", zap.Error(err))
	}
	defer dispatch.Release()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, log)
	hub := realtime.NewHub(log, redisPubSub, redisPubSub, dispatch)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	jobQueue := queue.NewQueue(rdb.Client, log)

	// Users and cached identities
	authRepo := auth.NewRepository(pool)
	identities := identity.NewCache(authRepo, identity.DefaultTTL)
	hub.SetPresenceHandler(func(userID uuid.UUID, online bool) {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := authRepo.Touch(tctx, userID, time.Now()); err != nil {
			log.Warn("update last_online failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	})

	// Notifications
	notificationRepo := notifications.NewRepository(pool)
	notificationSvc := notifications.NewService(notificationRepo, hub, jobQueue, log)
	notificationHandler := notifications.NewHandler(notificationSvc, log)
	fanout := worker.NewFanoutProcessor(jobQueue, notificationSvc, log)

	// Approval workflow
	approvalSvc := approvals.NewService(authRepo, notificationSvc, approvals.NewRedisThrottle(rdb.Client), hub, identities,
		time.Duration(cfg.Jobs.PendingThrottleMinutes)*time.Minute, log)
	approvalHandler := approvals.NewHandler(approvalSvc, log)
	authHandler := auth.NewHandler(authRepo, jwtService, identities, approvalSvc, log)

	// Groups, workplan, requests
	groupRepo := groups.NewRepository(pool)
	groupSvc := groups.NewService(groupRepo, authRepo, images, notificationSvc, hub, identities, log)
	groupHandler := groups.NewHandler(groupSvc, log)
	workplanHandler := workplan.NewHandler(workplan.NewService(workplan.NewRepository(pool), groupRepo, notificationSvc, hub, log), log)
	requestHandler := requests.NewHandler(requests.NewService(requests.NewRepository(pool), groupRepo, notificationSvc, hub, log), log)

	// Messaging
	messageHandler := messages.NewHandler(messages.NewService(messages.NewRepository(pool), authRepo, hub, log), log)

	if err := auth.EnsureBootstrapAdmin(ctx, authRepo, auth.BootstrapAdmin{
		Email:    cfg.Bootstrap.AdminEmail,
		Password: cfg.Bootstrap.AdminPassword,
		Name:     cfg.Bootstrap.AdminName,
		Lastname: cfg.Bootstrap.AdminLastname,
	}, log); err != nil {
		log.Fatal("bootstrap admin", zap.Error(err))
	}

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.SplitOrigins()))
	router.Use(middleware.Logger(log))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Signed in, approval not required
	session := router.Group("")
	session.Use(middleware.JWT(jwtService))
	{
		session.POST("/auth/logout", authHandler.Logout)
		session.GET("/me", authHandler.Me)
		session.PATCH("/me", authHandler.UpdateProfile)
	}

	// Approved accounts
	api := router.Group("")
	api.Use(middleware.JWT(jwtService), middleware.RequireApproved(identities, log))
	{
		// Directory and approvals
		api.GET("/users", middleware.RequireStaff(), authHandler.List)
		api.GET("/users/pending", middleware.RequireAdmin(), approvalHandler.ListPending)
		api.POST("/users/:id/approve", middleware.RequireAdmin(), approvalHandler.Approve)
		api.POST("/users/:id/reject", middleware.RequireAdmin(), approvalHandler.Reject)
		api.DELETE("/users/:id", middleware.RequireAdmin(), approvalHandler.Remove)

		// Groups
		api.GET("/groups", groupHandler.List)
		api.POST("/groups", middleware.RequireAdmin(), groupHandler.Create)
		api.GET("/groups/:id", groupHandler.Get)
		api.PATCH("/groups/:id", middleware.RequireAdmin(), groupHandler.Update)
		api.DELETE("/groups/:id", middleware.RequireAdmin(), groupHandler.Delete)
		api.POST("/groups/:id/image", middleware.RequireAdmin(), groupHandler.UploadImage)
		api.POST("/groups/:id/archive", middleware.RequireAdmin(), groupHandler.Archive)
		api.POST("/groups/:id/unarchive", middleware.RequireAdmin(), groupHandler.Unarchive)
		api.POST("/groups/:id/members", middleware.RequireAdmin(), groupHandler.AddMember)
		api.DELETE("/groups/:id/members/:userId", middleware.RequireAdmin(), groupHandler.RemoveMember)

		// Workplan
		api.GET("/groups/:id/tasks", workplanHandler.List)
		api.POST("/groups/:id/tasks", workplanHandler.Create)
		api.PATCH("/tasks/:id", workplanHandler.Update)
		api.DELETE("/tasks/:id", workplanHandler.Delete)
		api.PATCH("/tasks/:id/status", workplanHandler.SetStatus)

		// Requests
		api.GET("/groups/:id/requests", requestHandler.List)
		api.POST("/groups/:id/requests", requestHandler.Create)
		api.PATCH("/requests/:id", requestHandler.Update)
		api.DELETE("/requests/:id", requestHandler.Delete)
		api.PATCH("/requests/:id/status", requestHandler.SetStatus)

		// Notifications
		api.GET("/notifications", notificationHandler.List)
		api.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		api.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
		api.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		api.POST("/notifications/delete-all", notificationHandler.DeleteAll)
		api.DELETE("/notifications/:id", notificationHandler.Delete)

		// Messages
		api.GET("/messages/contacts", messageHandler.Contacts)
		api.GET("/messages/unread", messageHandler.Unread)
		api.GET("/messages/with/:userId", messageHandler.Conversation)
		api.POST("/messages", messageHandler.Send)
		api.PATCH("/messages/:id", messageHandler.Edit)
		api.DELETE("/messages/:id", messageHandler.Delete)
		api.POST("/messages/:id/seen", messageHandler.MarkSeen)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, realtime.NewAuthorizer(identities, groupRepo), log, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Notification fanout can also run in the dedicated worker binary
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Jobs.RunFanoutWorkerInServer {
		for i := 0; i < max(cfg.Jobs.FanoutWorkers, 1); i++ {
			go fanout.Run(workerCtx)
		}
		log.Info("fanout worker started", zap.Int("workers", max(cfg.Jobs.FanoutWorkers, 1)))
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
