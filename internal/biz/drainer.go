package biz

import (
	"context"
	"sync/atomic"

	"SoakGate/internal/conf"
	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// DrainResult reports one drain tick.
type DrainResult struct {
	Processed    int    `json:"processed"`
	Succeeded    int    `json:"succeeded"`
	Requeued     int    `json:"requeued"`
	DeadLettered int    `json:"dead_lettered"`
	Remaining    int    `json:"remaining"`
	Skipped      string `json:"skipped,omitempty"`
}

// Skip reasons reported in DrainResult.
const (
	SkipBreakerNotClosed = "breaker_not_closed"
	SkipLatencyCeiling   = "latency_ceiling"
	SkipAlreadyDraining  = "already_draining"
)

// BacklogDrainer retries backlog entries at a bounded rate while the breaker
// is CLOSED and live latency stays under the configured ceiling. It runs
// from an independent periodic tick; a tick that cannot run is a no-op and
// the entries simply wait for the next one.
type BacklogDrainer struct {
	breaker  *CircuitBreaker
	queue    *BacklogQueue
	ledger   *EvidenceLedger
	notifier Notifier

	maxBatch  int
	ceilingMs float64

	draining atomic.Bool
	logger   *log.Helper
}

// NewBacklogDrainer wires the drainer to the breaker's call path.
func NewBacklogDrainer(c *conf.Resilience_Backlog, breaker *CircuitBreaker, queue *BacklogQueue, ledger *EvidenceLedger, notifier Notifier, logger log.Logger) *BacklogDrainer {
	batch := c.DrainBatch
	if batch <= 0 {
		batch = 5
	}
	return &BacklogDrainer{
		breaker:   breaker,
		queue:     queue,
		ledger:    ledger,
		notifier:  notifier,
		maxBatch:  batch,
		ceilingMs: c.LatencyCeilingMs,
		logger:    log.NewHelper(logger),
	}
}

// Drain retries up to maxBatch ready entries through the breaker's attempt
// path. It is a no-op while the breaker is not CLOSED, and skips the whole
// batch while live P95 exceeds the latency ceiling so that backlog
// processing never degrades live traffic.
//
// Retries within one idempotency key are strictly sequential: at most one
// non-dead-letter entry exists per key and only one drain runs at a time.
func (d *BacklogDrainer) Drain(ctx context.Context, fn Downstream) DrainResult {
	if !d.draining.CompareAndSwap(false, true) {
		return DrainResult{Remaining: d.queue.Depth(), Skipped: SkipAlreadyDraining}
	}
	defer d.draining.Store(false)

	if d.breaker.State() != model.BreakerClosed {
		return DrainResult{Remaining: d.queue.Depth(), Skipped: SkipBreakerNotClosed}
	}

	if p95 := d.breaker.metrics.P95(); d.ceilingMs > 0 && p95 > d.ceilingMs {
		d.logger.Infow("drain skipped: live latency over ceiling",
			"p95_ms", p95,
			"ceiling_ms", d.ceilingMs,
			"backlog_depth", d.queue.Depth())
		return DrainResult{Remaining: d.queue.Depth(), Skipped: SkipLatencyCeiling}
	}

	batch := d.queue.Ready(d.maxBatch)
	res := DrainResult{}

	for _, entry := range batch {
		// Graceful cancellation: finish the entry in flight, stop between
		// entries.
		if ctx.Err() != nil {
			break
		}
		// The breaker can open mid-batch; stop immediately if it did.
		if d.breaker.State() != model.BreakerClosed {
			break
		}

		res.Processed++
		_, err := d.breaker.attempt(ctx, fn, entry.Payload)
		if err == nil {
			d.queue.RecordSuccess(entry.Key)
			res.Succeeded++
			continue
		}

		if dead := d.queue.RecordFailure(entry.Key); dead != nil {
			res.DeadLettered++
			d.deadLetter(ctx, dead, err)
			continue
		}
		res.Requeued++
	}

	res.Remaining = d.queue.Depth()
	if res.Processed > 0 {
		d.logger.Infow("backlog drain tick",
			"processed", res.Processed,
			"succeeded", res.Succeeded,
			"requeued", res.Requeued,
			"dead_lettered", res.DeadLettered,
			"remaining", res.Remaining)
	}
	return res
}

// deadLetter emits the one-per-entry dead-letter ledger event and pages the
// operators. Exhausted retries are the only condition that pages by default.
func (d *BacklogDrainer) deadLetter(ctx context.Context, entry *model.BacklogEntry, lastErr error) {
	event := model.DeadLetteredEvent{
		Key:         entry.Key,
		Attempts:    entry.Attempts,
		FirstSeenAt: entry.FirstSeenAt,
		LastKind:    ClassifyFailure(lastErr).String(),
	}

	if _, err := d.ledger.Append(ctx, event, d.breaker.State().String()); err != nil {
		d.logger.Errorw("failed to append dead-letter ledger entry", "idempotency_key", entry.Key, "error", err)
	}

	if err := d.notifier.Publish(ctx, event); err != nil {
		d.logger.Warnw("failed to publish dead-letter notification", "idempotency_key", entry.Key, "error", err)
	}

	d.logger.Errorw("backlog entry dead-lettered, manual remediation required",
		"idempotency_key", entry.Key,
		"attempts", entry.Attempts,
		"first_seen_at", entry.FirstSeenAt)
}
