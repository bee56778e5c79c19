package biz

import (
	"sync"
	"time"

	"SoakGate/internal/conf"
	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Breach reasons returned by GreenWindowTracker.Update. Latency is checked
// before error rate, so a tick breaching both reports latency.
const (
	BreachLatency   = "latency"
	BreachErrorRate = "error_rate"
)

// GreenWindowTracker accumulates the continuous duration during which live
// metrics satisfy the green predicate. Any breach zeroes the accumulator:
// no partial credit, no decay.
//
// Update tolerates irregular call intervals: it accumulates the wall-clock
// time elapsed since the previous update rather than assuming a fixed
// cadence.
type GreenWindowTracker struct {
	mu sync.Mutex

	startedAt    time.Time // zero iff greenSeconds == 0
	lastUpdateAt time.Time
	greenSeconds float64
	breachCount  int
	lastBreach   string
	meetsTarget  bool

	thresholdP95 float64
	thresholdErr float64
	target       time.Duration

	clock  func() time.Time
	logger *log.Helper
}

// NewGreenWindowTracker creates an idle tracker from configuration.
func NewGreenWindowTracker(c *conf.Rollout_Green, logger log.Logger) *GreenWindowTracker {
	return &GreenWindowTracker{
		thresholdP95: c.ThresholdP95Ms,
		thresholdErr: c.ThresholdErr,
		target:       c.Target.AsDuration(),
		clock:        time.Now,
		logger:       log.NewHelper(logger),
	}
}

// Update feeds one metrics observation. It returns whether the observation
// was green and, when it was not, which sub-condition failed.
func (g *GreenWindowTracker) Update(p95Ms, errorRate float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()

	var reason string
	switch {
	case p95Ms >= g.thresholdP95:
		reason = BreachLatency
	case errorRate >= g.thresholdErr:
		reason = BreachErrorRate
	}

	if reason != "" {
		g.greenSeconds = 0
		g.startedAt = time.Time{}
		g.lastUpdateAt = now
		g.breachCount++
		g.lastBreach = reason
		g.meetsTarget = false
		g.logger.Infow("green window breached",
			"reason", reason,
			"p95_ms", p95Ms,
			"error_rate", errorRate,
			"breach_count", g.breachCount)
		return false, reason
	}

	if g.startedAt.IsZero() {
		g.startedAt = now
	} else {
		g.greenSeconds += now.Sub(g.lastUpdateAt).Seconds()
	}
	g.lastUpdateAt = now

	if !g.meetsTarget && g.greenSeconds >= g.target.Seconds() {
		g.meetsTarget = true
		g.logger.Infow("green window target met",
			"green_seconds", g.greenSeconds,
			"target_seconds", g.target.Seconds())
	}
	return true, ""
}

// Touch advances the update clock without crediting or breaching. Used when
// no metrics data exists: 0 means "no data", never "healthy", so the
// accumulator pauses instead of counting the gap as green.
func (g *GreenWindowTracker) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastUpdateAt = g.clock()
}

// Reset clears all accumulated green time, recording the given reason.
// Used by the rollback protocol: elapsed window time from before a rollback
// is never credited.
func (g *GreenWindowTracker) Reset(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.greenSeconds = 0
	g.startedAt = time.Time{}
	g.breachCount++
	g.lastBreach = reason
	g.meetsTarget = false
}

// MeetsTarget reports whether the accumulator has crossed the target.
func (g *GreenWindowTracker) MeetsTarget() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meetsTarget
}

// EarliestETA returns the earliest possible time the target can be met
// again, assuming uninterrupted green from now on.
func (g *GreenWindowTracker) EarliestETA() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.target.Seconds() - g.greenSeconds
	if remaining < 0 {
		remaining = 0
	}
	return g.clock().Add(time.Duration(remaining * float64(time.Second)))
}

// Snapshot returns the current accumulator state for reporting.
func (g *GreenWindowTracker) Snapshot() model.GreenWindowSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := model.GreenWindowSnapshot{
		ConsecutiveGreen: g.greenSeconds,
		BreachCount:      g.breachCount,
		LastBreachReason: g.lastBreach,
		MeetsTarget:      g.meetsTarget,
	}
	if !g.startedAt.IsZero() {
		t := g.startedAt
		snap.StartedAt = &t
	}
	return snap
}
