package biz

import (
	"os"
	"testing"
	"time"

	"SoakGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newTestGreenConf() *conf.Rollout_Green {
	return &conf.Rollout_Green{
		ThresholdP95Ms: 1250.0,
		ThresholdErr:   0.005,
		Target:         durationpb.New(30 * time.Minute),
	}
}

func newTestTracker(clk *fakeClock) *GreenWindowTracker {
	tr := NewGreenWindowTracker(newTestGreenConf(), log.NewStdLogger(os.Stdout))
	tr.clock = clk.Now
	return tr
}

// Test green accumulation across irregular update intervals
func TestGreenWindow_Accumulates(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	green, reason := tr.Update(300, 0.001)
	assert.True(t, green)
	assert.Empty(t, reason)
	// First green update starts the window; nothing accumulated yet.
	assert.Equal(t, 0.0, tr.Snapshot().ConsecutiveGreen)

	clk.Advance(30 * time.Second)
	tr.Update(300, 0.001)
	assert.InDelta(t, 30.0, tr.Snapshot().ConsecutiveGreen, 1e-9)

	// Irregular cadence: a 90s gap credits 90s.
	clk.Advance(90 * time.Second)
	tr.Update(300, 0.001)
	assert.InDelta(t, 120.0, tr.Snapshot().ConsecutiveGreen, 1e-9)
}

// Test breach resets the accumulator to zero - no partial credit
func TestGreenWindow_BreachResets(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Update(300, 0.001)
	clk.Advance(29 * time.Minute)
	tr.Update(300, 0.001)
	require.InDelta(t, 29*60.0, tr.Snapshot().ConsecutiveGreen, 1e-9)

	// A breach at minute 29 of a 30-minute target zeroes everything.
	clk.Advance(30 * time.Second)
	green, reason := tr.Update(2000, 0.001)
	assert.False(t, green)
	assert.Equal(t, BreachLatency, reason)

	snap := tr.Snapshot()
	assert.Equal(t, 0.0, snap.ConsecutiveGreen)
	assert.Equal(t, 1, snap.BreachCount)
	assert.Equal(t, BreachLatency, snap.LastBreachReason)
	assert.Nil(t, snap.StartedAt)
	assert.False(t, snap.MeetsTarget)
}

// Test breach reason ordering - latency is checked before error rate
func TestGreenWindow_BreachReasonOrdering(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	_, reason := tr.Update(2000, 0.5)
	assert.Equal(t, BreachLatency, reason)

	_, reason = tr.Update(300, 0.5)
	assert.Equal(t, BreachErrorRate, reason)
}

// Test boundary values - thresholds themselves are breaches
func TestGreenWindow_ThresholdBoundary(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	green, reason := tr.Update(1250.0, 0.001)
	assert.False(t, green)
	assert.Equal(t, BreachLatency, reason)

	green, reason = tr.Update(1249.9, 0.005)
	assert.False(t, green)
	assert.Equal(t, BreachErrorRate, reason)

	green, _ = tr.Update(1249.9, 0.0049)
	assert.True(t, green)
}

// Test MeetsTarget flips on the update that crosses the target
func TestGreenWindow_MeetsTargetOnCrossing(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Update(300, 0.001)
	clk.Advance(29*time.Minute + 45*time.Second)
	tr.Update(300, 0.001)
	assert.False(t, tr.MeetsTarget())

	clk.Advance(30 * time.Second)
	tr.Update(300, 0.001)
	assert.True(t, tr.MeetsTarget())

	// The flag holds on subsequent green updates.
	clk.Advance(30 * time.Second)
	tr.Update(300, 0.001)
	assert.True(t, tr.MeetsTarget())
}

// Test Touch pauses accumulation during no-data gaps
func TestGreenWindow_TouchPauses(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Update(300, 0.001)
	clk.Advance(time.Minute)
	tr.Update(300, 0.001)
	require.InDelta(t, 60.0, tr.Snapshot().ConsecutiveGreen, 1e-9)

	// Ten minutes of no data must not be credited as green.
	clk.Advance(10 * time.Minute)
	tr.Touch()

	clk.Advance(time.Minute)
	tr.Update(300, 0.001)
	assert.InDelta(t, 120.0, tr.Snapshot().ConsecutiveGreen, 1e-9)
}

// Test Reset - rollback never credits elapsed window time
func TestGreenWindow_Reset(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Update(300, 0.001)
	clk.Advance(31 * time.Minute)
	tr.Update(300, 0.001)
	require.True(t, tr.MeetsTarget())

	tr.Reset("rollback: bad deploy")

	snap := tr.Snapshot()
	assert.Equal(t, 0.0, snap.ConsecutiveGreen)
	assert.False(t, snap.MeetsTarget)
	assert.Equal(t, "rollback: bad deploy", snap.LastBreachReason)
}

// Test EarliestETA reflects the remaining green time needed
func TestGreenWindow_EarliestETA(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(clk)

	// Idle tracker: full target from now.
	assert.Equal(t, clk.Now().Add(30*time.Minute), tr.EarliestETA())

	tr.Update(300, 0.001)
	clk.Advance(10 * time.Minute)
	tr.Update(300, 0.001)

	assert.Equal(t, clk.Now().Add(20*time.Minute), tr.EarliestETA())
}
