package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/di"
	"github.com/Hennamaria07/movieBookingBackend/internal/metrics"
	"github.com/Hennamaria07/movieBookingBackend/pkg/config"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	"github.com/Hennamaria07/movieBookingBackend/pkg/middleware"
	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting booking service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("telemetry disabled", zap.Error(err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("failed to register booking metrics", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		appLog.Fatal("failed to build service", zap.Error(err))
	}
	defer container.Close()

	if cfg.Booking.InProcessSweep {
		if err := container.HoldSweeper.Start(ctx); err != nil {
			appLog.Fatal("failed to start hold sweeper", zap.Error(err))
		}
		defer container.HoldSweeper.Stop()
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	router.Use(middleware.RequestLogger(appLog, "/health", "/ready"))

	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(&middleware.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	}))

	var writes []gin.HandlerFunc
	if container.Redis != nil {
		idempotency := middleware.DefaultIdempotencyConfig(container.Redis)
		if cfg.Booking.IdempotencyTTL > 0 {
			idempotency.TTL = cfg.Booking.IdempotencyTTL
		}
		writes = append(writes, middleware.IdempotencyMiddleware(idempotency))
	} else {
		appLog.Warn("redis not available, write endpoints run without idempotency keys")
	}
	container.BookingHandler.RegisterRoutes(api, writes...)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.Info("booking service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server forced to shutdown", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("telemetry shutdown failed", zap.Error(err))
	}
	appLog.Info("server exited")
}
