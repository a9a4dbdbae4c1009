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
	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/di"
	"github.com/prohmpiriya/reservation-engine/internal/handler"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.Log.Level,
		ServiceName: "reservation-service",
		Development: cfg.IsDevelopment(),
		OutputFile:  cfg.Log.OutputFile,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Service...",
		zap.String("store", cfg.Reservation.StoreDriver),
		zap.String("notifier", cfg.Reservation.NotifierDriver),
		zap.Strings("categories", cfg.Inventory.Names()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry disabled: %v", err))
	}
	metrics.Init()

	infra, err := di.NewInfrastructure(ctx, cfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to initialize infrastructure: %v", err))
	}
	defer infra.Close()

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:       cfg,
		Infra:        infra,
		WithConsumer: true,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}
	defer container.Close()

	// Background workers
	if cfg.Reservation.RunSweeper {
		if err := container.Sweeper.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start expiry sweeper: %v", err))
		}
	}
	if container.Consumer != nil {
		if err := container.Consumer.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start payment results consumer: %v", err))
		}
	}
	go container.RateLimiter.RunCleanup(ctx, 5*time.Minute)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()
	router := handler.NewRouter(container.RouterConfig())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Reservation Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to flush traces: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
