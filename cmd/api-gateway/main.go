package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/edurisk-api/api/swagger"
	"github.com/noah-isme/edurisk-api/internal/handler"
	"github.com/noah-isme/edurisk-api/internal/middleware"
	"github.com/noah-isme/edurisk-api/internal/models"
	"github.com/noah-isme/edurisk-api/internal/repository"
	"github.com/noah-isme/edurisk-api/internal/service"
	"github.com/noah-isme/edurisk-api/pkg/cache"
	"github.com/noah-isme/edurisk-api/pkg/config"
	"github.com/noah-isme/edurisk-api/pkg/database"
	"github.com/noah-isme/edurisk-api/pkg/jobs"
	"github.com/noah-isme/edurisk-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/edurisk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/edurisk-api/pkg/middleware/requestid"
)

// @title EduRisk Upload API
// @version 0.1.0
// @description Student data ingestion, validation, and rollback service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	studentRepo := repository.NewStudentRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	ruleSvc := service.NewRuleService(ruleRepo, cacheRepo, auditRepo, logr, cfg.Rules.CacheTTL)
	uploadSvc := service.NewUploadService(uploadRepo, studentRepo, ruleSvc, auditRepo, metricsSvc, logr, service.UploadServiceConfig{
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		MaxRows:          cfg.Uploads.MaxRows,
		DecodeTimeout:    cfg.Uploads.DecodeTimeout,
		StrictMode:       cfg.Uploads.StrictMode,
		AbortOnError:     cfg.Uploads.AbortOnError,
		Async:            cfg.Uploads.Async,
	})
	rollbackSvc := service.NewRollbackService(uploadRepo, cacheRepo, auditRepo, metricsSvc, logr, cfg.Rollback.ConfirmTTL)
	studentSvc := service.NewStudentService(studentRepo, validate, auditRepo, logr)
	reportSvc := service.NewReportService(uploadRepo, logr)
	auditSvc := service.NewAuditService(auditRepo, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var commitQueue *jobs.Queue
	if cfg.Uploads.Async {
		commitQueue = jobs.NewQueue("upload-commit", uploadSvc.HandleCommitJob, jobs.QueueConfig{
			Workers:    cfg.Uploads.WorkerConcurrency,
			BufferSize: cfg.Uploads.QueueBuffer,
			Logger:     logr,
		})
		commitQueue.Start(ctx)
		defer commitQueue.Stop()
		uploadSvc.SetQueue(commitQueue)
	}

	uploadHandler := handler.NewUploadHandler(uploadSvc, rollbackSvc, reportSvc)
	ruleHandler := handler.NewRuleHandler(ruleSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	auditHandler := handler.NewAuditHandler(auditSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.MaxMultipartMemory = cfg.Uploads.MaxFileSizeBytes

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		uploads := api.Group("/uploads")
		uploads.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleMentor))
		{
			uploads.POST("", uploadHandler.Create)
			uploads.GET("", uploadHandler.List)
			uploads.GET("/:id", uploadHandler.Get)
			uploads.GET("/:id/report", uploadHandler.Report)
			uploads.POST("/:id/rollback", uploadHandler.RequestRollback)
			uploads.POST("/:id/rollback/confirm", uploadHandler.ConfirmRollback)
		}

		rules := api.Group("/rules")
		{
			rules.GET("", ruleHandler.List)
			rules.GET("/:id", ruleHandler.Get)
			rules.POST("", middleware.RequireRoles(models.RoleAdmin), ruleHandler.Create)
			rules.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), ruleHandler.Update)
		}

		students := api.Group("/students")
		{
			students.GET("", studentHandler.List)
			students.GET("/:id", studentHandler.Get)
			students.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleMentor), studentHandler.Create)
			students.PUT("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleMentor), studentHandler.Update)
			students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Deactivate)
		}

		api.GET("/activity", middleware.RequireRoles(models.RoleAdmin), auditHandler.List)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
