package storage

import (
	"context"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
)

// HealthChecker defines the interface for storage backends to implement health checks
type HealthChecker interface {
	CheckHealth(ctx context.Context) *config.HealthData
}

// StartHealthMonitor starts a generic health monitoring goroutine for any storage backend
func StartHealthMonitor(ctx context.Context, hm *HealthManager, storageType string, checker HealthChecker, interval time.Duration) {
	go func() {
		updateHealth := func() {
			health := checker.CheckHealth(ctx)
			hm.UpdateHealth("storage/"+storageType, health)
			log.Debugf("updated %s health status: %s", storageType, health.Status)
		}

		updateHealth()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				updateHealth()
			case <-ctx.Done():
				log.Infof("stopping %s health monitor", storageType)
				return
			}
		}
	}()
}

// CreateHealthData creates a basic health data structure
func CreateHealthData(status, message string, err error) *config.HealthData {
	health := &config.HealthData{
		LastCheck: time.Now(),
		Status:    status,
		Message:   message,
	}

	if err != nil {
		health.Error = err.Error()
	}

	return health
}

// DrainRecords processes whatever is still buffered in recordChan without
// blocking. Engines call it on shutdown so the final records, including the
// one that closes a session, are not lost.
func DrainRecords(recordChan <-chan types.Record, processor func(types.Record) error, name string) {
	for {
		select {
		case r := <-recordChan:
			if err := processor(r); err != nil {
				log.Errorf("%s record processor error during shutdown: %v", name, err)
			}
		default:
			return
		}
	}
}
