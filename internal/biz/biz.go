// Package biz contains the resilience core: circuit breaker, backlog queue
// and drainer, metrics window, green window tracker, rollout gate controller
// and the evidence ledger.
package biz

import (
	"context"
	"errors"

	"SoakGate/internal/conf"
	"SoakGate/internal/data"
	"SoakGate/internal/model"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	ProvideBreakerConf,
	ProvideBacklogConf,
	ProvideGreenConf,
	ProvideGateConf,
	ProvideMetricsWindow,
	NewDownstream,
	NewBacklogQueue,
	NewEvidenceLedger,
	NewCircuitBreaker,
	NewBacklogDrainer,
	NewGreenWindowTracker,
	NewRolloutGateController,
	// Import data layer providers
	data.NewLedgerArchive,
	data.NewRedisNotifier,
	data.NewRedisFreezeFlag,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(LedgerArchiver), new(*data.LedgerArchive)),
	wire.Bind(new(Notifier), new(*data.RedisNotifier)),
	wire.Bind(new(FreezeFlag), new(*data.RedisFreezeFlag)),
)

// ProvideBreakerConf extracts the breaker section for injection.
func ProvideBreakerConf(c *conf.Resilience) *conf.Resilience_Breaker { return c.Breaker }

// ProvideBacklogConf extracts the backlog section for injection.
func ProvideBacklogConf(c *conf.Resilience) *conf.Resilience_Backlog { return c.Backlog }

// ProvideGreenConf extracts the green window section for injection.
func ProvideGreenConf(c *conf.Rollout) *conf.Rollout_Green { return c.Green }

// ProvideGateConf extracts the gate section for injection.
func ProvideGateConf(c *conf.Rollout) *conf.Rollout_Gate { return c.Gate }

// ProvideMetricsWindow creates the metrics window at the configured size.
func ProvideMetricsWindow(c *conf.Resilience_Breaker) *MetricsWindow {
	return NewMetricsWindow(c.MetricsWindowSize)
}

// NewDownstream adapts the HTTP downstream client to the breaker's call
// contract, attaching failure kinds at the transport boundary: HTTP 429 is a
// rejection, other statuses and transport errors are unavailability, and
// deadline expiry is classified as a timeout by ClassifyFailure.
func NewDownstream(client *data.DownstreamClient) Downstream {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		result, err := client.Invoke(ctx, payload)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &DownstreamError{Kind: model.FailureTimeout, Err: err}
		}
		var se *data.StatusError
		if errors.As(err, &se) {
			kind := model.FailureUnavailable
			if se.Code == 429 {
				kind = model.FailureRejected
			}
			return nil, &DownstreamError{Kind: kind, Err: err}
		}
		return nil, &DownstreamError{Kind: model.FailureUnavailable, Err: err}
	}
}
