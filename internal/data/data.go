// Package data provides the operational mirrors of the resilience core:
// the durable ledger/DLQ archive, the Redis-backed telemetry snapshot,
// the event notifier channel and the global change-freeze flag.
//
// Everything in this package is best-effort by design. The in-memory core is
// authoritative for a single process; Redis or MySQL being unavailable
// degrades the mirrors, never the core.
package data

import (
	"SoakGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewTelemetryPublisher,
	NewDownstreamClient,
)

// Data contains the shared data layer dependencies.
type Data struct {
	redisClient *redis.Client
	db          *gorm.DB
}

// NewData creates a new Data instance. Redis or database connection failure
// does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, telemetry mirror and notifier channel unavailable")
	}
	if db == nil {
		helper.Warn("database is nil, ledger/DLQ archive disabled")
	}

	d := &Data{
		redisClient: rdb,
		db:          db,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Connection cleanup is handled by the client constructors' cleanup
		// functions, which Wire invokes in reverse order.
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
