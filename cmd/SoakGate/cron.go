package main

import (
	"context"
	"time"

	"SoakGate/internal/biz"
	"SoakGate/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// ResilienceCron runs the background loops of the resilience core:
// backlog draining, the rollout gate tick and the telemetry snapshot
// publish. It plugs into the Kratos application lifecycle as a server.
type ResilienceCron struct {
	cron       *cron.Cron
	drainer    *biz.BacklogDrainer
	gate       *biz.RolloutGateController
	breaker    *biz.CircuitBreaker
	telemetry  *data.TelemetryPublisher
	downstream biz.Downstream
	logger     *log.Helper
}

// NewResilienceCron creates the scheduler. Jobs are registered on Start so a
// constructed-but-never-started cron holds no goroutines.
func NewResilienceCron(
	drainer *biz.BacklogDrainer,
	gate *biz.RolloutGateController,
	breaker *biz.CircuitBreaker,
	telemetry *data.TelemetryPublisher,
	downstream biz.Downstream,
	logger log.Logger,
) *ResilienceCron {
	return &ResilienceCron{
		cron:       cron.New(cron.WithSeconds()),
		drainer:    drainer,
		gate:       gate,
		breaker:    breaker,
		telemetry:  telemetry,
		downstream: downstream,
		logger:     log.NewHelper(logger),
	}
}

// Start registers and starts the cron jobs. A job failure is logged and
// retried on its next tick; it never stops the scheduler.
func (rc *ResilienceCron) Start(_ context.Context) error {
	// Backlog drain: every 15 seconds.
	if _, err := rc.cron.AddFunc("*/15 * * * * *", rc.drainTick); err != nil {
		return err
	}

	// Rollout gate tick: every 30 seconds.
	if _, err := rc.cron.AddFunc("*/30 * * * * *", rc.rolloutTick); err != nil {
		return err
	}

	// Telemetry snapshot publish: every minute.
	if _, err := rc.cron.AddFunc("0 * * * * *", rc.telemetryTick); err != nil {
		return err
	}

	rc.cron.Start()
	rc.logger.Infow("resilience cron started", "drain_interval", "15s", "rollout_interval", "30s", "telemetry_interval", "60s")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (rc *ResilienceCron) Stop(ctx context.Context) error {
	stopCtx := rc.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	rc.logger.Info("resilience cron stopped")
	return nil
}

func (rc *ResilienceCron) drainTick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result := rc.drainer.Drain(ctx, rc.downstream)
	if result.Skipped != "" {
		rc.logger.Debugw("drain tick skipped", "reason", result.Skipped, "remaining", result.Remaining)
		return
	}
	if result.Processed > 0 {
		rc.logger.Infow("drain tick completed",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"requeued", result.Requeued,
			"dead_lettered", result.DeadLettered,
			"remaining", result.Remaining)
	}
}

func (rc *ResilienceCron) rolloutTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rc.gate.Tick(ctx)
}

func (rc *ResilienceCron) telemetryTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rc.telemetry.Publish(ctx, rc.breaker.Metrics()); err != nil {
		rc.logger.Warnw("telemetry publish failed", "error", err)
	}
}
