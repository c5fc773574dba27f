package timescaledb

import (
	"context"
	"time"

	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/pkg/config"
	"github.com/jackc/pgx/v5"
)

const healthTimeout = 5 * time.Second

// CheckHealth opens a short-lived pgx connection and pings the server. It
// bypasses the gorm pool so a wedged pool doesn't mask a healthy server.
func (t *Storage) CheckHealth(ctx context.Context) *config.HealthData {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, t.connString)
	if err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "TimescaleDB connection failed", err)
	}
	defer conn.Close(context.Background())

	if err := conn.Ping(ctx); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "TimescaleDB ping failed", err)
	}

	var result int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "TimescaleDB query test failed", err)
	}

	if t.TimescaleDBConn != nil {
		if sqlDB, err := t.TimescaleDBConn.DB(); err != nil {
			return storage.CreateHealthData(storage.StatusUnhealthy, "Failed to get underlying database connection", err)
		} else if err := sqlDB.PingContext(ctx); err != nil {
			return storage.CreateHealthData(storage.StatusUnhealthy, "Connection pool ping failed", err)
		}
	}

	return storage.CreateHealthData(storage.StatusHealthy, "TimescaleDB operational - ping: OK, query test: OK", nil)
}
