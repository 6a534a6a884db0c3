package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/belykhk/cdcron-go/internal/config"
	"github.com/belykhk/cdcron-go/internal/coordinator"
	"github.com/belykhk/cdcron-go/internal/cron"
	"github.com/belykhk/cdcron-go/internal/health"
	"github.com/belykhk/cdcron-go/internal/leader"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting cdcron",
		zap.String("service_id", cfg.ServiceID),
		zap.String("service_name", cfg.ServiceName),
	)

	// The workload file is loaded before any coordinator interaction begins:
	// a missing or malformed workload is a startup-time configuration error,
	// not a runtime one, and must fail before we ever register.
	tasks, err := cron.LoadWorkload(cfg.WorkloadFile)
	if err != nil {
		logger.Fatal("failed to load workload", zap.Error(err))
	}
	logger.Info("workload loaded", zap.Int("task_count", len(tasks)))

	healthServer := health.NewServer(health.Config{Address: cfg.HealthcheckBindAddress()}, logger)
	healthErrCh := healthServer.Start()

	coordClient := coordinator.New(coordinator.Config{
		BaseURL: cfg.ConsulBaseURL(),
		Token:   cfg.ConsulToken,
	}, logger)

	manager := leader.New(coordClient, leader.Config{
		Service: coordinator.ServiceRegistration{
			ID:      cfg.ServiceID,
			Name:    cfg.ServiceName,
			Address: cfg.HealthcheckHost,
			Port:    cfg.HealthcheckPort,
			Check: coordinator.HealthCheck{
				HTTP:                           cfg.HealthcheckProbeURL(),
				Interval:                       "5s",
				Timeout:                        "1s",
				DeregisterCriticalServiceAfter: "30s",
			},
		},
		ServiceName: cfg.ServiceName,
		ElectionKey: cfg.ElectionKey(),
	}, logger)

	leaderErrCh := make(chan error, 1)
	go func() {
		leaderErrCh <- manager.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	dispatcher := cron.New(tasks, logger)
	dispatcherRunning := false

	for {
		select {
		case becameLeader := <-manager.LeaderChanges():
			if becameLeader && !dispatcherRunning {
				logger.Info("leadership acquired, starting dispatcher")
				if err := dispatcher.Start(ctx); err != nil {
					logger.Error("failed to start dispatcher", zap.Error(err))
					break
				}
				dispatcherRunning = true
			} else if !becameLeader && dispatcherRunning {
				logger.Info("leadership lost, stopping dispatcher")
				dispatcher.Stop(ctx)
				dispatcherRunning = false
				dispatcher = cron.New(tasks, logger)
			}

		case err := <-leaderErrCh:
			shutdown(logger, manager, healthServer, dispatcherRunning, dispatcher, cancel)
			if err != nil && err != context.Canceled {
				// Fatal coordinator error: exit non-zero (logger.Fatal flushes, then os.Exit(1)).
				logger.Fatal("leadership manager exited with error", zap.Error(err))
			}
			return

		case err := <-healthErrCh:
			if err != nil {
				logger.Error("health server exited with error", zap.Error(err))
			}
			shutdown(logger, manager, healthServer, dispatcherRunning, dispatcher, cancel)
			return

		case <-quit:
			logger.Info("shutdown signal received, initiating graceful shutdown")
			shutdown(logger, manager, healthServer, dispatcherRunning, dispatcher, cancel)
			return
		}
	}
}

func shutdown(logger *zap.Logger, manager *leader.Manager, healthServer *health.Server, dispatcherRunning bool, dispatcher *cron.Dispatcher, cancel context.CancelFunc) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if dispatcherRunning {
		dispatcher.Stop(shutdownCtx)
	}

	cancel()
	manager.Shutdown(shutdownCtx)

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", zap.Error(err))
	}

	logger.Info("cdcron shutdown complete")
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.LogFormat == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zapCfg.Build()
}
