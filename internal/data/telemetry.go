package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// telemetryKey holds the latest breaker metrics snapshot for the external
// telemetry layer, which polls Redis instead of hitting the service.
const telemetryKey = "soakgate:breaker_metrics"

// telemetryTTL covers three missed publish cycles at the recommended 60s
// cadence before the snapshot is considered stale and expires.
const telemetryTTL = 3 * time.Minute

// TelemetryPublisher mirrors the breaker metrics snapshot to Redis at the
// scheduler's cadence. Publishing is best-effort: the metrics endpoint on
// the operator API remains the authoritative source.
type TelemetryPublisher struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewTelemetryPublisher creates a publisher. The Redis client may be nil;
// publishing then no-ops with a debug log.
func NewTelemetryPublisher(d *Data, logger log.Logger) *TelemetryPublisher {
	return &TelemetryPublisher{
		rdb:    d.redisClient,
		logger: log.NewHelper(logger),
	}
}

// Publish writes the snapshot under the telemetry key.
func (p *TelemetryPublisher) Publish(ctx context.Context, metrics model.BreakerMetrics) error {
	if p.rdb == nil {
		p.logger.Debug("telemetry publish skipped (Redis unavailable)")
		return nil
	}

	payload, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry snapshot: %w", err)
	}

	if err := p.rdb.Set(ctx, telemetryKey, payload, telemetryTTL).Err(); err != nil {
		p.logger.Warnw("failed to publish telemetry snapshot (degraded mode)", "error", err)
		return fmt.Errorf("failed to publish telemetry snapshot: %w", err)
	}

	p.logger.Debugw("telemetry snapshot published",
		"state", metrics.State,
		"backlog_depth", metrics.BacklogDepth,
		"p95_ms", metrics.P95Ms)
	return nil
}
