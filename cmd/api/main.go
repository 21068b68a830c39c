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
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/reservapp/reserva-api/api/swagger"
	"github.com/reservapp/reserva-api/internal/handler"
	"github.com/reservapp/reserva-api/internal/middleware"
	"github.com/reservapp/reserva-api/internal/models"
	"github.com/reservapp/reserva-api/internal/repository"
	"github.com/reservapp/reserva-api/internal/service"
	"github.com/reservapp/reserva-api/pkg/cache"
	"github.com/reservapp/reserva-api/pkg/config"
	"github.com/reservapp/reserva-api/pkg/database"
	"github.com/reservapp/reserva-api/pkg/jobs"
	"github.com/reservapp/reserva-api/pkg/logger"
	corsmiddleware "github.com/reservapp/reserva-api/pkg/middleware/cors"
	reqidmiddleware "github.com/reservapp/reserva-api/pkg/middleware/requestid"
)

// @title Reserva API
// @version 1.0.0
// @description Multi-tenant booking platform with slot conflict detection
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	var cacheRepo *repository.CacheRepository
	if cfg.Catalog.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, catalog caching disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close()
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	businessRepo := repository.NewBusinessRepository(db)
	serviceRepo := repository.NewServiceRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(tokenRepo, logr, cfg.JWT.RefreshExpiration)
	authSvc := service.NewAuthService(userRepo, tokenSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, tokenSvc, validate, logr)

	businessSvc := service.NewBusinessService(businessRepo, cacheRepo, cfg.Catalog.CacheTTL, validate, logr)
	catalogSvc := service.NewCatalogService(serviceRepo, businessRepo, cacheRepo, cfg.Catalog.CacheTTL, validate, logr)
	bookingSvc := service.NewBookingService(bookingRepo, serviceRepo, businessRepo, validate, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		exportSvc = service.NewExportService(bookingSvc, service.ExportConfig{MaxRows: cfg.Exports.MaxRows}, logr, nil, nil)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	businessHandler := handler.NewBusinessHandler(businessSvc, bookingSvc, exportSvc)
	serviceHandler := handler.NewServiceHandler(catalogSvc)
	bookingHandler := handler.NewBookingHandler(bookingSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	purgeQueue := jobs.NewQueue("token-purge", func(ctx context.Context, job jobs.Job) error {
		_, err := tokenSvc.PurgeExpired(ctx)
		return err
	}, jobs.QueueConfig{
		Workers:    cfg.Tokens.PurgeWorkers,
		MaxRetries: cfg.Tokens.PurgeRetries,
		Logger:     logr,
	})
	purgeQueue.Start(ctx)
	defer purgeQueue.Stop()

	go runPurgeTicker(ctx, purgeQueue, cfg.Tokens.PurgeInterval)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/logout-all", middleware.JWT(authSvc), authHandler.LogoutAll)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	businesses := api.Group("/businesses")
	{
		businesses.GET("", businessHandler.List)
		businesses.GET("/my-businesses", middleware.JWT(authSvc), businessHandler.ListMine)
		businesses.GET("/:id", businessHandler.Get)
		businesses.GET("/:id/services", serviceHandler.ListByBusiness)

		businesses.POST("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleOwner, models.RoleAdmin), businessHandler.Create)
		businesses.PUT("/:id", middleware.JWT(authSvc), businessHandler.Update)
		businesses.DELETE("/:id", middleware.JWT(authSvc), businessHandler.Deactivate)
		businesses.POST("/:id/services", middleware.JWT(authSvc), serviceHandler.Create)
		businesses.GET("/:id/bookings", middleware.JWT(authSvc), businessHandler.ListBookings)
		if exportSvc != nil {
			businesses.GET("/:id/bookings/export", middleware.JWT(authSvc), businessHandler.ExportBookings)
		}
	}

	services := api.Group("/services")
	{
		services.GET("/:id", serviceHandler.Get)
		services.PUT("/:id", middleware.JWT(authSvc), serviceHandler.Update)
		services.DELETE("/:id", middleware.JWT(authSvc), serviceHandler.Delete)
	}

	bookings := api.Group("/bookings", middleware.JWT(authSvc))
	{
		bookings.GET("/availability", bookingHandler.CheckAvailability)
		bookings.POST("", bookingHandler.Create)
		bookings.GET("", middleware.RequireRoles(models.RoleAdmin), bookingHandler.List)
		bookings.GET("/me", bookingHandler.ListMine)
		bookings.GET("/:id", bookingHandler.Get)
		bookings.PATCH("/:id", bookingHandler.Reschedule)
		bookings.PATCH("/:id/status", bookingHandler.ChangeStatus)
		bookings.DELETE("/:id", bookingHandler.Cancel)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.PATCH("/me", userHandler.UpdateProfile)
		users.PUT("/me/password", userHandler.ChangePassword)
		users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), userHandler.Get)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
		users.PATCH("/:id/role", middleware.RequireRoles(models.RoleAdmin), userHandler.UpdateRole)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func runPurgeTicker(ctx context.Context, queue *jobs.Queue, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "purge-expired-tokens"})
		}
	}
}
