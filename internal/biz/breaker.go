package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SoakGate/internal/conf"
	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Downstream is the wrapped call to the provider-integration dependency.
// Any non-nil error is uniformly breaker-relevant; DownstreamError carries an
// optional failure kind for diagnosis.
type Downstream func(ctx context.Context, payload []byte) ([]byte, error)

// DownstreamError classifies a failure at the wrapped-call boundary.
type DownstreamError struct {
	Kind model.FailureKind
	Err  error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *DownstreamError) Unwrap() error { return e.Err }

// ClassifyFailure maps an error from the wrapped call to a failure kind.
// Deadline expiry is a timeout; anything unclassified is unavailable.
func ClassifyFailure(err error) model.FailureKind {
	var de *DownstreamError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	return model.FailureUnavailable
}

// Outcome is the result of CircuitBreaker.Call. Exactly one of the two
// dispositions holds: the call executed downstream and succeeded, or it was
// queued for deferred retry. Callers never see a downstream failure.
type Outcome struct {
	Queued bool
	Result []byte
}

// CircuitBreaker wraps calls to the downstream dependency. It decides
// CLOSED/OPEN/HALF_OPEN and diverts calls to the backlog instead of failing
// the caller when not CLOSED.
//
// The breaker exclusively owns its state and failure window. The mutex is
// never held across a downstream call: it is acquired to decide the action
// and again to record the result.
type CircuitBreaker struct {
	mu sync.Mutex

	state       model.BreakerState
	forcedOpen  bool
	openedAt    time.Time
	closedSince time.Time
	lastProbeAt time.Time
	probeOK     int

	// failureWindow holds failure timestamps within the trailing failure
	// window; a single success fully clears it (not a decay).
	failureWindow []time.Time
	// failures5m and opens1h back the telemetry counters.
	failures5m []time.Time
	opens1h    []time.Time

	queue   *BacklogQueue
	metrics *MetricsWindow
	ledger  *EvidenceLedger

	failureThreshold int
	windowSpan       time.Duration
	openDuration     time.Duration
	probeInterval    time.Duration
	closeThreshold   int
	callTimeout      time.Duration

	clock  func() time.Time
	logger *log.Helper
}

// NewCircuitBreaker creates a closed breaker wired to its backlog, metrics
// window and ledger.
func NewCircuitBreaker(c *conf.Resilience_Breaker, queue *BacklogQueue, metrics *MetricsWindow, ledger *EvidenceLedger, logger log.Logger) *CircuitBreaker {
	now := time.Now()
	return &CircuitBreaker{
		state:            model.BreakerClosed,
		closedSince:      now,
		queue:            queue,
		metrics:          metrics,
		ledger:           ledger,
		failureThreshold: c.FailureThreshold,
		windowSpan:       c.FailureWindow.AsDuration(),
		openDuration:     c.OpenDuration.AsDuration(),
		probeInterval:    c.ProbeInterval.AsDuration(),
		closeThreshold:   c.CloseThreshold,
		callTimeout:      c.CallTimeout.AsDuration(),
		clock:            time.Now,
		logger:           log.NewHelper(logger),
	}
}

// Call wraps one downstream call. It never propagates downstream failure:
// on failure the payload is enqueued under its idempotency key and the
// caller receives a Queued outcome. A key that already has a pending backlog
// entry coalesces into that entry without executing, so the drainer remains
// the single execution path for it. The only error returned is the caller's
// own context cancellation before any attempt was made.
func (b *CircuitBreaker) Call(ctx context.Context, fn Downstream, idempotencyKey string, payload []byte) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	// Executing while a retry is pending would race the drainer into a second
	// downstream effect under the same key.
	if b.queue.IsPending(idempotencyKey) {
		return Outcome{Queued: true}, nil
	}

	if !b.admit() {
		b.queue.Enqueue(idempotencyKey, payload)
		return Outcome{Queued: true}, nil
	}

	result, err := b.attempt(ctx, fn, payload)
	if err != nil {
		b.queue.Enqueue(idempotencyKey, payload)
		return Outcome{Queued: true}, nil
	}
	return Outcome{Result: result}, nil
}

// admit decides whether a call may go downstream right now, applying the
// lazy OPEN → HALF_OPEN transition and the one-probe-per-interval rule.
func (b *CircuitBreaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	switch b.state {
	case model.BreakerClosed:
		return true
	case model.BreakerOpen:
		if b.forcedOpen || now.Sub(b.openedAt) < b.openDuration {
			return false
		}
		// Open duration elapsed: this call becomes the first probe.
		b.state = model.BreakerHalfOpen
		b.probeOK = 0
		b.lastProbeAt = now
		b.logger.Infow("breaker half-open, probing downstream", "open_for", now.Sub(b.openedAt).String())
		return true
	case model.BreakerHalfOpen:
		if !b.lastProbeAt.IsZero() && now.Sub(b.lastProbeAt) < b.probeInterval {
			return false
		}
		b.lastProbeAt = now
		return true
	default:
		return false
	}
}

// attempt executes the downstream call with the configured timeout and
// records the sample and any state transition. Called for direct traffic and
// for drained retries alike.
func (b *CircuitBreaker) attempt(ctx context.Context, fn Downstream, payload []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	start := b.clock()
	result, err := fn(callCtx, payload)
	latencyMs := float64(b.clock().Sub(start)) / float64(time.Millisecond)

	b.metrics.Record(latencyMs, err == nil)

	if err == nil {
		b.recordSuccess()
		return result, nil
	}
	b.recordFailure(ClassifyFailure(err))
	return nil, err
}

// recordSuccess clears the failure window and advances half-open recovery.
func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()

	var closed *model.BreakerClosedEvent
	now := b.clock()

	// One success fully clears failure history, so only an uninterrupted run
	// of failures inside the trailing window can trip the breaker.
	b.failureWindow = b.failureWindow[:0]

	if b.state == model.BreakerHalfOpen {
		b.probeOK++
		if b.probeOK >= b.closeThreshold {
			closed = &model.BreakerClosedEvent{
				ClosedAt:   now,
				OpenFor:    now.Sub(b.openedAt),
				ProbeCount: b.probeOK,
			}
			b.state = model.BreakerClosed
			b.closedSince = now
			b.probeOK = 0
			b.lastProbeAt = time.Time{}
		}
	}
	b.mu.Unlock()

	if closed != nil {
		b.logger.Infow("breaker closed after probe successes", "probe_count", closed.ProbeCount, "open_for", closed.OpenFor.String())
		b.appendLedger(*closed)
	}
}

// recordFailure appends to the failure window and trips or reopens the
// breaker as required.
func (b *CircuitBreaker) recordFailure(kind model.FailureKind) {
	b.mu.Lock()

	var opened *model.BreakerOpenedEvent
	now := b.clock()
	b.failures5m = append(b.failures5m, now)

	switch b.state {
	case model.BreakerClosed:
		b.failureWindow = append(b.failureWindow, now)
		b.pruneWindowLocked(now)
		if len(b.failureWindow) >= b.failureThreshold {
			b.state = model.BreakerOpen
			b.openedAt = now
			b.opens1h = append(b.opens1h, now)
			opened = &model.BreakerOpenedEvent{
				OpenedAt:        now,
				WindowFailures:  len(b.failureWindow),
				OpenCount1H:     b.openCount1hLocked(now),
				TriggeredByKind: kind.String(),
			}
			b.failureWindow = b.failureWindow[:0]
		}
	case model.BreakerHalfOpen:
		// A probe failure immediately reopens.
		b.state = model.BreakerOpen
		b.openedAt = now
		b.probeOK = 0
		b.opens1h = append(b.opens1h, now)
		opened = &model.BreakerOpenedEvent{
			OpenedAt:        now,
			OpenCount1H:     b.openCount1hLocked(now),
			TriggeredByKind: kind.String(),
		}
	}
	b.mu.Unlock()

	if opened != nil {
		b.logger.Warnw("breaker opened", "failure_kind", kind.String(), "open_count_1h", opened.OpenCount1H)
		b.appendLedger(*opened)
	}
}

// pruneWindowLocked drops failure timestamps older than the trailing window.
func (b *CircuitBreaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-b.windowSpan)
	kept := b.failureWindow[:0]
	for _, t := range b.failureWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failureWindow = kept
}

func (b *CircuitBreaker) openCount1hLocked(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	kept := b.opens1h[:0]
	for _, t := range b.opens1h {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.opens1h = kept
	return len(b.opens1h)
}

// ForceOpen opens the breaker manually. The lazy half-open transition is
// suppressed until ForceClose.
func (b *CircuitBreaker) ForceOpen(ctx context.Context, reason string) {
	b.mu.Lock()
	now := b.clock()
	b.state = model.BreakerOpen
	b.forcedOpen = true
	b.openedAt = now
	b.probeOK = 0
	b.mu.Unlock()

	b.logger.Warnw("breaker forced open", "reason", reason)
	b.appendLedger(model.BreakerForcedEvent{Open: true, Reason: reason, At: now})
}

// ForceClose closes the breaker manually, clearing all counters.
func (b *CircuitBreaker) ForceClose(ctx context.Context, reason string) {
	b.mu.Lock()
	now := b.clock()
	b.state = model.BreakerClosed
	b.forcedOpen = false
	b.closedSince = now
	b.probeOK = 0
	b.lastProbeAt = time.Time{}
	b.failureWindow = b.failureWindow[:0]
	b.mu.Unlock()

	b.logger.Infow("breaker forced closed", "reason", reason)
	b.appendLedger(model.BreakerForcedEvent{Open: false, Reason: reason, At: now})
}

// appendLedger writes a breaker event to the evidence ledger. Never called
// while holding the state lock.
func (b *CircuitBreaker) appendLedger(event model.Event) {
	if _, err := b.ledger.Append(context.Background(), event, b.State().String()); err != nil {
		b.logger.Errorw("failed to append breaker ledger entry", "event_type", event.EventType().String(), "error", err)
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ClosedSince returns when the breaker last entered CLOSED, or the zero time
// if it is not closed.
func (b *CircuitBreaker) ClosedSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != model.BreakerClosed {
		return time.Time{}
	}
	return b.closedSince
}

// Metrics returns the telemetry snapshot polled by the external telemetry
// layer.
func (b *CircuitBreaker) Metrics() model.BreakerMetrics {
	b.mu.Lock()
	now := b.clock()

	cutoff := now.Add(-5 * time.Minute)
	kept := b.failures5m[:0]
	for _, t := range b.failures5m {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures5m = kept
	failures5m := len(b.failures5m)
	opens1h := b.openCount1hLocked(now)

	state := b.state
	var closedSince *time.Time
	if state == model.BreakerClosed {
		t := b.closedSince
		closedSince = &t
	}
	b.mu.Unlock()

	return model.BreakerMetrics{
		State:          state.String(),
		FailuresLast5M: failures5m,
		OpenCount1H:    opens1h,
		BacklogDepth:   b.queue.Depth(),
		DLQDepth:       b.queue.DLQDepth(),
		P95Ms:          b.metrics.P95(),
		ErrorRate:      b.metrics.ErrorRate(),
		SampleCount:    b.metrics.Len(),
		ClosedSince:    closedSince,
	}
}
