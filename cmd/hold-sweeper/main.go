package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/di"
	"github.com/Hennamaria07/movieBookingBackend/internal/metrics"
	"github.com/Hennamaria07/movieBookingBackend/pkg/config"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "hold-sweeper",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting hold sweeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Booking.UseMemoryStores {
		appLog.Fatal("hold sweeper needs the shared database; in-memory mode sweeps inside the API process (BOOKING_IN_PROCESS_SWEEP)")
	}

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "hold-sweeper",
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

	// The container brings the payment gateway and saga log along, so the
	// sweeper can also finish compensations left by crashed API processes.
	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		appLog.Fatal("failed to build container", zap.Error(err))
	}
	defer container.Close()

	sweeper := container.HoldSweeper
	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal("failed to start hold sweeper", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("shutting down hold sweeper")
	sweeper.Stop()

	stats := sweeper.Stats()
	appLog.Info("hold sweeper exited",
		zap.Int64("sweeps", stats.Sweeps),
		zap.Int64("released", stats.TotalReleased),
		zap.Int64("sagas_recovered", stats.SagasRecovered),
	)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = telemetry.Shutdown(shutdownCtx)
}
