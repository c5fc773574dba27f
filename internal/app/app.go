package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/managers"
	"github.com/chrissnell/simtelemetry/internal/metrics"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"go.uber.org/zap"
)

// drainTimeout bounds how long shutdown waits for the storage engines to
// receive the final records.
const drainTimeout = 5 * time.Second

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m, err := metrics.New(ctx, cfg.Metrics)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), drainTimeout)
		defer done()
		if err := m.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics shutdown: %v", err)
		}
	}()

	// Initialize the storage manager
	storageManager, err := managers.NewStorageManager(ctx, &wg, &cfg.Storage)
	if err != nil {
		return err
	}

	// Initialize the telemetry arbiter and its sources
	arb, err := managers.NewArbiter(cfg, a.logger.Named("arbiter"))
	if err != nil {
		return err
	}
	arb.SetHealthReporter(storage.GlobalHealthManager)
	arb.SetObserver(m)
	if err := m.ObserveSources(arb.Sources()); err != nil {
		return fmt.Errorf("could not register source metrics: %w", err)
	}

	records, unsubscribe := arb.Subscribe()
	defer unsubscribe()
	storageManager.Consume(ctx, &wg, records)

	if err := arb.Start(ctx); err != nil {
		return err
	}
	defer arb.Stop()

	// Initialize the controller manager
	cm, err := managers.NewControllerManager(ctx, &wg, cfg.Controllers, managers.ControllerDeps{
		Telemetry: arb,
		Storage:   storageManager,
		Deadband:  cfg.GForce.Deadband,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := cm.StartControllers(); err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-arb.Done():
		log.Info("telemetry arbiter stopped, shutting down...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Stopping the arbiter closes the record stream, which ends any open
	// session and hands it to the storage engines.
	arb.Stop()
	select {
	case <-storageManager.Drained():
	case <-time.After(drainTimeout):
		log.Warn("timed out waiting for storage engines to drain")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}
