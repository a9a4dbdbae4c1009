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

	"github.com/prohmpiriya/reservation-engine/internal/di"
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
		ServiceName: "expiry-sweeper",
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
	appLog.Info("Starting Expiry Sweeper...")

	if cfg.Reservation.StoreDriver == di.StoreMemory {
		appLog.Fatal("The standalone sweeper cannot share in-memory stores; use postgres or mongo")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "expiry-sweeper",
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

	container, err := di.NewContainer(ctx, &di.ContainerConfig{Config: cfg, Infra: infra})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}
	defer container.Close()

	if err := container.Sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start expiry sweeper: %v", err))
	}

	// Metrics and probes on the service port
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 2 * time.Second}
	go func() {
		appLog.Info(fmt.Sprintf("Metrics listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error(fmt.Sprintf("Metrics server error: %v", err))
		}
	}()

	appLog.Info("Expiry Sweeper started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down sweeper...")
	container.Sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = telemetry.Shutdown(shutdownCtx)

	appLog.Info("Sweeper exited gracefully")
}
