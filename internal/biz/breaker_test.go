package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"SoakGate/internal/conf"
	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// fakeClock is a manually advanced clock shared by the components under test.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreakerConf() *conf.Resilience_Breaker {
	return &conf.Resilience_Breaker{
		FailureThreshold:  3,
		FailureWindow:     durationpb.New(60 * time.Second),
		OpenDuration:      durationpb.New(5 * time.Minute),
		ProbeInterval:     durationpb.New(30 * time.Second),
		CloseThreshold:    2,
		CallTimeout:       durationpb.New(10 * time.Second),
		MetricsWindowSize: 100,
	}
}

// newTestBreaker wires a breaker with an in-memory queue, metrics window and
// ledger, all on the same fake clock.
func newTestBreaker(clk *fakeClock) (*CircuitBreaker, *BacklogQueue, *EvidenceLedger) {
	logger := log.NewStdLogger(os.Stdout)
	queue := NewBacklogQueue(newTestBacklogConf())
	queue.clock = clk.Now
	ledger := NewEvidenceLedger(nil, logger)
	ledger.clock = clk.Now
	b := NewCircuitBreaker(newTestBreakerConf(), queue, NewMetricsWindow(100), ledger, logger)
	b.clock = clk.Now
	b.closedSince = clk.Now()
	return b, queue, ledger
}

func okDownstream(_ context.Context, _ []byte) ([]byte, error) {
	return []byte("ok"), nil
}

func failDownstream(_ context.Context, _ []byte) ([]byte, error) {
	return nil, &DownstreamError{Kind: model.FailureUnavailable, Err: errors.New("boom")}
}

// Test opening at the failure threshold within the trailing window
func TestBreaker_TripsAtThreshold(t *testing.T) {
	clk := newFakeClock()
	b, _, ledger := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := b.Call(ctx, failDownstream, "k"+string(rune('a'+i)), nil)
		require.NoError(t, err)
		assert.True(t, out.Queued)
		assert.Equal(t, model.BreakerClosed, b.State())
		clk.Advance(time.Second)
	}

	out, err := b.Call(ctx, failDownstream, "kc", nil)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, model.BreakerOpen, b.State())

	entries := ledger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "BREAKER_OPENED", entries[0].EventType)
}

// Test that one success fully clears the failure window
func TestBreaker_SuccessClearsWindow(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)
	ctx := context.Background()

	_, _ = b.Call(ctx, failDownstream, "k1", nil)
	_, _ = b.Call(ctx, failDownstream, "k2", nil)

	out, err := b.Call(ctx, okDownstream, "k3", nil)
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, []byte("ok"), out.Result)

	// Two more failures: without the cleared window these would trip.
	_, _ = b.Call(ctx, failDownstream, "k4", nil)
	_, _ = b.Call(ctx, failDownstream, "k5", nil)
	assert.Equal(t, model.BreakerClosed, b.State())
}

// Test that failures outside the trailing window do not count
func TestBreaker_WindowExpiry(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)
	ctx := context.Background()

	_, _ = b.Call(ctx, failDownstream, "k1", nil)
	_, _ = b.Call(ctx, failDownstream, "k2", nil)

	clk.Advance(61 * time.Second)

	_, _ = b.Call(ctx, failDownstream, "k3", nil)
	assert.Equal(t, model.BreakerClosed, b.State())
}

// Test diversion while OPEN - callers get Queued, never an error
func TestBreaker_OpenDiverts(t *testing.T) {
	clk := newFakeClock()
	b, queue, _ := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Call(ctx, failDownstream, "trip-"+string(rune('a'+i)), nil)
	}
	require.Equal(t, model.BreakerOpen, b.State())

	called := false
	fn := func(_ context.Context, _ []byte) ([]byte, error) {
		called = true
		return []byte("ok"), nil
	}

	out, err := b.Call(ctx, fn, "diverted", []byte("payload"))
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.False(t, called, "downstream must not be invoked while open")
	assert.Equal(t, 4, queue.Depth()) // three tripping keys + "diverted"
}

// Test that a key with a pending backlog entry coalesces instead of executing
func TestBreaker_PendingKeyCoalesces(t *testing.T) {
	clk := newFakeClock()
	b, queue, _ := newTestBreaker(clk)
	ctx := context.Background()

	out, err := b.Call(ctx, failDownstream, "order-7", nil)
	require.NoError(t, err)
	require.True(t, out.Queued)
	require.Equal(t, 1, queue.Depth())

	// A second call under the same key must not reach downstream: the pending
	// entry already owns the retry, and a direct execution would be a second
	// effect under one idempotency key.
	executions := 0
	fn := func(_ context.Context, _ []byte) ([]byte, error) {
		executions++
		return []byte("ok"), nil
	}
	out, err = b.Call(ctx, fn, "order-7", nil)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, 0, executions)
	assert.Equal(t, 1, queue.Depth())

	// Once the entry completes the key is admitted again.
	queue.RecordSuccess("order-7")
	out, err = b.Call(ctx, fn, "order-7", nil)
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, 1, executions)
}

// Test caller cancellation is the only error surfaced by Call
func TestBreaker_CallContextCanceled(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Call(ctx, okDownstream, "k1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// Test the lazy OPEN → HALF_OPEN transition and recovery by probes
func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clk := newFakeClock()
	b, _, ledger := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Call(ctx, failDownstream, "trip-"+string(rune('a'+i)), nil)
	}
	require.Equal(t, model.BreakerOpen, b.State())

	// Before the open duration elapses calls still divert.
	clk.Advance(4 * time.Minute)
	out, _ := b.Call(ctx, okDownstream, "early", nil)
	assert.True(t, out.Queued)

	// After the open duration the next call becomes the first probe.
	clk.Advance(2 * time.Minute)
	out, err := b.Call(ctx, okDownstream, "probe-1", nil)
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, model.BreakerHalfOpen, b.State())

	// A second probe before the probe interval is diverted.
	clk.Advance(10 * time.Second)
	out, _ = b.Call(ctx, okDownstream, "too-soon", nil)
	assert.True(t, out.Queued)

	// The second allowed probe success closes the breaker.
	clk.Advance(30 * time.Second)
	out, err = b.Call(ctx, okDownstream, "probe-2", nil)
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, model.BreakerClosed, b.State())

	types := make([]string, 0)
	for _, e := range ledger.Entries() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{"BREAKER_OPENED", "BREAKER_CLOSED"}, types)
}

// Test that a probe failure reopens immediately
func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Call(ctx, failDownstream, "trip-"+string(rune('a'+i)), nil)
	}
	clk.Advance(6 * time.Minute)

	out, err := b.Call(ctx, failDownstream, "probe", nil)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, model.BreakerOpen, b.State())

	// The reopen restarts the full open duration.
	clk.Advance(time.Minute)
	out, _ = b.Call(ctx, okDownstream, "early", nil)
	assert.True(t, out.Queued)
}

// Test manual override - ForceOpen suppresses the lazy recovery
func TestBreaker_ForceOpenHolds(t *testing.T) {
	clk := newFakeClock()
	b, _, ledger := newTestBreaker(clk)
	ctx := context.Background()

	b.ForceOpen(ctx, "maintenance")
	assert.Equal(t, model.BreakerOpen, b.State())

	// Far beyond the open duration the breaker still diverts.
	clk.Advance(time.Hour)
	out, err := b.Call(ctx, okDownstream, "k1", nil)
	require.NoError(t, err)
	assert.True(t, out.Queued)

	b.ForceClose(ctx, "maintenance done")
	assert.Equal(t, model.BreakerClosed, b.State())

	out, err = b.Call(ctx, okDownstream, "k2", nil)
	require.NoError(t, err)
	assert.False(t, out.Queued)

	types := make([]string, 0)
	for _, e := range ledger.Entries() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{"BREAKER_FORCED_OPEN", "BREAKER_FORCED_CLOSED"}, types)
}

// Test that manual opens do not consume the hourly open budget
func TestBreaker_ForceOpenNotCountedInBudget(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)
	ctx := context.Background()

	b.ForceOpen(ctx, "drill")
	b.ForceClose(ctx, "drill done")

	assert.Equal(t, 0, b.Metrics().OpenCount1H)
}

// Test the telemetry snapshot counters
func TestBreaker_Metrics(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Call(ctx, failDownstream, "trip-"+string(rune('a'+i)), nil)
	}

	m := b.Metrics()
	assert.Equal(t, "OPEN", m.State)
	assert.Equal(t, 3, m.FailuresLast5M)
	assert.Equal(t, 1, m.OpenCount1H)
	assert.Equal(t, 3, m.BacklogDepth)
	assert.Equal(t, 0, m.DLQDepth)
	assert.Equal(t, 3, m.SampleCount)
	assert.Equal(t, 1.0, m.ErrorRate)
	assert.Nil(t, m.ClosedSince)

	// Failure counters age out.
	clk.Advance(6 * time.Minute)
	m = b.Metrics()
	assert.Equal(t, 0, m.FailuresLast5M)
	assert.Equal(t, 1, m.OpenCount1H)

	clk.Advance(time.Hour)
	assert.Equal(t, 0, b.Metrics().OpenCount1H)
}

// Test ClosedSince reporting
func TestBreaker_ClosedSince(t *testing.T) {
	clk := newFakeClock()
	b, _, _ := newTestBreaker(clk)
	ctx := context.Background()

	start := clk.Now()
	assert.Equal(t, start, b.ClosedSince())

	for i := 0; i < 3; i++ {
		_, _ = b.Call(ctx, failDownstream, "trip-"+string(rune('a'+i)), nil)
	}
	assert.True(t, b.ClosedSince().IsZero())
}

// Test failure classification at the call boundary
func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, model.FailureRejected,
		ClassifyFailure(&DownstreamError{Kind: model.FailureRejected, Err: errors.New("429")}))
	assert.Equal(t, model.FailureTimeout, ClassifyFailure(context.DeadlineExceeded))
	assert.Equal(t, model.FailureUnavailable, ClassifyFailure(errors.New("connection refused")))
}
