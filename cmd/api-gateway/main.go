package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/phd-adp-api/api/swagger"
	"github.com/noah-isme/phd-adp-api/internal/handler"
	"github.com/noah-isme/phd-adp-api/internal/middleware"
	"github.com/noah-isme/phd-adp-api/internal/models"
	"github.com/noah-isme/phd-adp-api/internal/repository"
	"github.com/noah-isme/phd-adp-api/internal/service"
	"github.com/noah-isme/phd-adp-api/pkg/cache"
	"github.com/noah-isme/phd-adp-api/pkg/config"
	"github.com/noah-isme/phd-adp-api/pkg/database"
	"github.com/noah-isme/phd-adp-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/phd-adp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/phd-adp-api/pkg/middleware/requestid"
)

// @title PhD ADP API
// @version 0.1.0
// @description Doctoral studies administrative portal - approval workflow engine
// @BasePath /
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	transitionRepo := repository.NewTransitionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	// Services.
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "phd-adp-api",
		Audience:           []string{"phd-adp-portal"},
	})

	metricsService := service.NewMetricsService()

	workflowOpts := []service.WorkflowServiceOption{
		service.WithWorkflowMetrics(metricsService),
	}
	var notifier *service.QueueNotifier
	if cfg.Notifications.Enabled {
		notifier = service.NewQueueNotifier(cfg.Notifications, logr)
		notifier.Start(ctx)
		defer notifier.Stop()
		workflowOpts = append(workflowOpts, service.WithNotifier(notifier))
	}

	workflowService := service.NewWorkflowService(
		subjectRepo,
		transitionRepo,
		models.DefaultRuleSet(),
		userRepo,
		logr,
		workflowOpts...,
	)

	exportService := service.NewExportService(workflowService)
	dashboardService := service.NewDashboardService(subjectRepo, cacheRepo, cfg.Workflow.DashboardCacheTTL, logr)

	if cfg.Expiry.Enabled {
		var expiryNotifier service.Notifier
		if notifier != nil {
			expiryNotifier = notifier
		}
		expiryService := service.NewExpiryService(subjectRepo, expiryNotifier, cfg.Expiry.Interval, logr)
		if err := expiryService.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start expiry sweeper", "error", err)
		}
		defer expiryService.Stop()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	subjectHandler := handler.NewSubjectHandler(workflowService, exportService)
	dashboardHandler := handler.NewDashboardHandler(dashboardService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	subjects := api.Group("/subjects", middleware.JWT(authService))
	{
		subjects.POST("", subjectHandler.Create)
		subjects.GET("", subjectHandler.List)
		subjects.GET("/:id", subjectHandler.Get)
		subjects.POST("/:id/director",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionDirectorAssign, "subjects"),
			subjectHandler.AssignDirector)
		subjects.POST("/:id/transitions", subjectHandler.Transition)
		subjects.GET("/:id/actions", subjectHandler.Actions)
		subjects.GET("/:id/history", subjectHandler.History)
		subjects.GET("/:id/history/export", subjectHandler.HistoryExport)
	}

	dashboard := api.Group("/dashboard", middleware.JWT(authService))
	{
		dashboard.GET("/workflow", middleware.RequireRoles(models.RoleAdmin), dashboardHandler.Workflow)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
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
