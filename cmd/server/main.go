// Package main runs the attendee registration HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/witcon/backend/config"
	"github.com/witcon/backend/internal/attendees"
	"github.com/witcon/backend/internal/auth"
	"github.com/witcon/backend/internal/metrics"
	"github.com/witcon/backend/internal/middleware"
	"github.com/witcon/backend/internal/worker"
	"github.com/witcon/backend/pkg/database"
	"github.com/witcon/backend/pkg/queue"
	"github.com/witcon/backend/pkg/redis"
	"github.com/witcon/backend/pkg/response"
	"github.com/witcon/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	opts := attendees.Options{
		MaxUpload: int64(cfg.Server.MaxUploadMB) * 1024 * 1024,
		Logger:    logger,
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.UploadsBucket,
			PublicBaseURL:   cfg.AWS.PublicBaseURL,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, file uploads rejected", zap.Error(err))
		} else {
			opts.Blobs = s3Client
		}
	}

	var jobQueue *queue.Queue
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Warn("redis unavailable, lookup cache and cleanup queue disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			opts.Cache = attendees.NewRedisCache(rdb.Client, cfg.Cache.TTL)
			jobQueue = queue.NewQueue(rdb.Client, logger)
			opts.Cleaner = jobQueue
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	policy := auth.NewRolePolicy(cfg.Auth.StaffRoles, cfg.Auth.PublicList)
	if cfg.Auth.PublicList {
		logger.Warn("attendee list is public (AUTH_PUBLIC_LIST); do not use in production")
	}

	svc := attendees.NewService(attendees.NewRepository(pool), opts)
	attendeeHandler := attendees.NewHandler(svc, policy, logger)

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.Authenticate(jwtService))

	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "Not found.") })
	router.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c, `method "`+c.Request.Method+`" not allowed`)
	})

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	attendees.RegisterRoutes(router, attendeeHandler)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process cleanup worker; cmd/worker runs the same loop standalone.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil && s3Client != nil {
		go worker.NewBlobCleanup(s3Client, jobQueue, logger).Run(workerCtx)
		logger.Info("blob cleanup worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
