package biz

import (
	"context"
	"sync"
	"time"

	"SoakGate/internal/conf"
	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Gate criteria names reported by EvaluateGate.
const (
	CriterionGreenTarget  = "green_target_met"
	CriterionBreakerDwell = "breaker_closed_10m"
	CriterionBacklogDwell = "backlog_under_ceiling_10m"
	CriterionBudgetOpens  = "hourly_opens_under_ceiling"
	CriterionBudgetDLQ    = "dlq_under_ceiling"
	CriterionLedgerIntact = "ledger_intact"
)

// GateDecision is the outcome of one conjunctive gate evaluation.
type GateDecision struct {
	Passed   bool            `json:"passed"`
	Criteria map[string]bool `json:"criteria"`
}

// TickResult reports one rollout controller tick.
type TickResult struct {
	State        model.RolloutState `json:"-"`
	StateName    string             `json:"state"`
	Green        bool               `json:"green"`
	BreachReason string             `json:"breach_reason,omitempty"`
	Transitioned bool               `json:"transitioned"`
}

// RolloutGateController governs the staged reintroduction of the secondary
// traffic class after an incident. It consumes breaker state, the green
// window tracker, queue depth and budget metrics to decide HOLD / ADVANCE /
// ROLLBACK, emitting a ledger entry at each transition.
//
// The controller authorizes traffic shifts; an external collaborator
// executes them.
type RolloutGateController struct {
	mu sync.Mutex

	state      model.RolloutState
	trafficPct int
	freeze     bool
	// backlogOKSince tracks how long backlog depth has stayed under the gate
	// ceiling, for the dwell criterion.
	backlogOKSince time.Time

	breaker  *CircuitBreaker
	tracker  *GreenWindowTracker
	ledger   *EvidenceLedger
	notifier Notifier
	flag     FreezeFlag

	dwell          time.Duration
	backlogCeiling int
	maxHourlyOpens int
	maxDLQDepth    int
	stages         []int

	clock  func() time.Time
	logger *log.Helper
}

// NewRolloutGateController creates a controller in HOLDING with the
// secondary traffic class at 0%.
func NewRolloutGateController(c *conf.Rollout_Gate, breaker *CircuitBreaker, tracker *GreenWindowTracker, ledger *EvidenceLedger, notifier Notifier, flag FreezeFlag, logger log.Logger) *RolloutGateController {
	stages := c.Stages
	if len(stages) == 0 {
		stages = []int{1, 5, 25, 100}
	}
	return &RolloutGateController{
		state:          model.RolloutHolding,
		breaker:        breaker,
		tracker:        tracker,
		ledger:         ledger,
		notifier:       notifier,
		flag:           flag,
		dwell:          c.Dwell.AsDuration(),
		backlogCeiling: c.BacklogCeiling,
		maxHourlyOpens: c.MaxHourlyOpens,
		maxDLQDepth:    c.MaxDLQDepth,
		stages:         stages,
		clock:          time.Now,
		logger:         log.NewHelper(logger),
	}
}

// Tick feeds live breaker metrics into the green window tracker and applies
// the state machine. Driven by the scheduler at a 1s-60s cadence.
func (r *RolloutGateController) Tick(ctx context.Context) TickResult {
	metrics := r.breaker.Metrics()

	var green bool
	var breachReason string
	if metrics.SampleCount == 0 {
		// No data is neither green nor a breach; pause the accumulator.
		r.tracker.Touch()
	} else {
		green, breachReason = r.tracker.Update(metrics.P95Ms, metrics.ErrorRate)
	}

	r.mu.Lock()
	now := r.clock()

	// Maintain the backlog dwell accumulator on every tick.
	if metrics.BacklogDepth < r.backlogCeiling {
		if r.backlogOKSince.IsZero() {
			r.backlogOKSince = now
		}
	} else {
		r.backlogOKSince = time.Time{}
	}

	res := TickResult{Green: green, BreachReason: breachReason}

	switch {
	case breachReason != "" && r.state != model.RolloutBreached:
		// Every stage of the ramp stays protected by the same thresholds: a
		// breach halts from HOLDING, GREEN_ACHIEVED, GATE_FAILED and a
		// GATE_PASSED ramp in progress alike.
		fromState := r.state
		fromPct := r.trafficPct
		r.state = model.RolloutBreached
		r.trafficPct = 0
		if fromState == model.RolloutGatePassed {
			// The breach revokes the gate authorization; changes stay frozen
			// until a fresh soak cycle passes the gate again.
			r.freeze = true
		}
		res.Transitioned = true
		r.mu.Unlock()

		// Breach side effects run synchronously in the same tick: secondary
		// traffic off, breaker proactively open, timer-reset evidence,
		// operator notification.
		r.onBreach(ctx, breachReason, fromPct, metrics)
		if fromState == model.RolloutGatePassed {
			if err := r.flag.Engage(ctx, "auto-halt: "+breachReason); err != nil {
				r.logger.Warnw("failed to engage change freeze flag", "error", err)
			}
		}

	case green && r.state == model.RolloutHolding && r.tracker.MeetsTarget():
		r.state = model.RolloutGreenAchieved
		r.freeze = true
		res.Transitioned = true
		r.mu.Unlock()

		r.onGreenAchieved(ctx, metrics)

	case r.state == model.RolloutBreached && green:
		// Breach handled; a fresh soak cycle begins.
		r.state = model.RolloutHolding
		res.Transitioned = true
		r.mu.Unlock()

	default:
		r.mu.Unlock()
	}

	r.mu.Lock()
	res.State = r.state
	res.StateName = r.state.String()
	r.mu.Unlock()
	return res
}

// onGreenAchieved engages the configuration freeze until gate evaluation and
// records the full metrics snapshot as evidence. The pending rollback
// notification is cancelled by reaching this state.
func (r *RolloutGateController) onGreenAchieved(ctx context.Context, metrics model.BreakerMetrics) {
	if err := r.flag.Engage(ctx, "green window achieved, frozen until gate evaluation"); err != nil {
		r.logger.Warnw("failed to engage change freeze flag", "error", err)
	}

	snap := r.tracker.Snapshot()
	event := model.GreenAchievedEvent{
		AchievedAt:   r.clock(),
		GreenSeconds: snap.ConsecutiveGreen,
		Metrics:      metrics,
	}
	if _, err := r.ledger.Append(ctx, event, r.stateName()); err != nil {
		r.logger.Errorw("failed to append green-achieved ledger entry", "error", err)
	}
	r.logger.Infow("green window achieved, configuration frozen until gate evaluation",
		"green_seconds", snap.ConsecutiveGreen)
}

// onBreach applies the breach protocol: force the breaker open, emit the
// timer-reset evidence with a recomputed ETA and notify the operators.
func (r *RolloutGateController) onBreach(ctx context.Context, reason string, fromPct int, metrics model.BreakerMetrics) {
	r.breaker.ForceOpen(ctx, "green window breach: "+reason)

	snap := r.tracker.Snapshot()
	event := model.GreenResetEvent{
		ResetAt:      r.clock(),
		BreachReason: reason,
		BreachCount:  snap.BreachCount,
		EarliestETA:  r.tracker.EarliestETA(),
	}
	if _, err := r.ledger.Append(ctx, event, r.stateName()); err != nil {
		r.logger.Errorw("failed to append timer-reset ledger entry", "error", err)
	}
	if err := r.notifier.Publish(ctx, event); err != nil {
		r.logger.Warnw("failed to publish breach notification", "error", err)
	}

	r.logger.Warnw("soak breached, secondary traffic disabled",
		"reason", reason,
		"previous_traffic_pct", fromPct,
		"earliest_eta", event.EarliestETA,
		"p95_ms", metrics.P95Ms,
		"error_rate", metrics.ErrorRate)
}

// EvaluateGate runs the conjunctive gate at the decision point. Every
// sub-condition must hold simultaneously; there is no partial or majority
// pass. A ledger verification failure fails the gate unconditionally:
// automated progression halts until the integrity violation is resolved.
func (r *RolloutGateController) EvaluateGate(ctx context.Context) GateDecision {
	metrics := r.breaker.Metrics()
	now := r.clock()

	closedSince := r.breaker.ClosedSince()
	breakerDwellOK := !closedSince.IsZero() && now.Sub(closedSince) >= r.dwell

	r.mu.Lock()
	backlogDwellOK := !r.backlogOKSince.IsZero() && now.Sub(r.backlogOKSince) >= r.dwell
	r.mu.Unlock()

	criteria := map[string]bool{
		CriterionGreenTarget:  r.tracker.MeetsTarget(),
		CriterionBreakerDwell: breakerDwellOK,
		CriterionBacklogDwell: backlogDwellOK,
		CriterionBudgetOpens:  metrics.OpenCount1H <= r.maxHourlyOpens,
		CriterionBudgetDLQ:    metrics.DLQDepth <= r.maxDLQDepth,
		CriterionLedgerIntact: r.ledger.Verify(),
	}

	passed := true
	for _, ok := range criteria {
		if !ok {
			passed = false
			break
		}
	}

	r.mu.Lock()
	if r.state == model.RolloutGreenAchieved || r.state == model.RolloutGateFailed {
		if passed {
			r.state = model.RolloutGatePassed
			// The freeze held changes through the soak; a passed gate
			// releases it for the authorized ramp.
			r.freeze = false
		} else {
			r.state = model.RolloutGateFailed
		}
	}
	r.mu.Unlock()

	if passed {
		if err := r.flag.Release(ctx); err != nil {
			r.logger.Warnw("failed to release change freeze flag", "error", err)
		}
	}

	event := model.GateEvaluatedEvent{
		EvaluatedAt: now,
		Passed:      passed,
		Criteria:    criteria,
		Metrics:     metrics,
	}
	if _, err := r.ledger.Append(ctx, event, r.stateName()); err != nil {
		r.logger.Errorw("failed to append gate-evaluated ledger entry", "error", err)
	}

	if passed {
		r.logger.Infow("rollout gate passed, staged ramp authorized", "stages", r.stages)
	} else {
		r.logger.Infow("rollout gate failed, staying reduced", "criteria", criteria)
	}

	return GateDecision{Passed: passed, Criteria: criteria}
}

// Advance steps the traffic percentage to the next ramp stage. Only valid
// after the gate passed; each stage remains protected by the same auto-halt
// thresholds via Tick.
func (r *RolloutGateController) Advance(ctx context.Context) (int, bool) {
	r.mu.Lock()
	if r.state != model.RolloutGatePassed {
		pct := r.trafficPct
		r.mu.Unlock()
		return pct, false
	}

	from := r.trafficPct
	to := from
	for _, s := range r.stages {
		if s > from {
			to = s
			break
		}
	}
	if to == from {
		r.mu.Unlock()
		return from, false
	}
	r.trafficPct = to
	r.mu.Unlock()

	event := model.RolloutAdvancedEvent{AdvancedAt: r.clock(), FromPct: from, ToPct: to}
	if _, err := r.ledger.Append(ctx, event, r.stateName()); err != nil {
		r.logger.Errorw("failed to append rollout-advanced ledger entry", "error", err)
	}
	r.logger.Infow("rollout stage advanced", "from_pct", from, "to_pct", to)
	return to, true
}

// Rollback aborts the current stage at any time: breaker forced open, global
// change freeze engaged, green window tracker reset. A fresh full green+soak
// cycle is required before any retry; partially elapsed windows are never
// credited.
func (r *RolloutGateController) Rollback(ctx context.Context, reason string) {
	r.mu.Lock()
	fromPct := r.trafficPct
	r.state = model.RolloutBreached
	r.trafficPct = 0
	r.freeze = true
	r.backlogOKSince = time.Time{}
	r.mu.Unlock()

	r.breaker.ForceOpen(ctx, "rollback: "+reason)
	if err := r.flag.Engage(ctx, "rollback: "+reason); err != nil {
		r.logger.Warnw("failed to engage change freeze flag", "error", err)
	}
	r.tracker.Reset("rollback: " + reason)

	event := model.RolloutRolledBackEvent{RolledBackAt: r.clock(), Reason: reason, FromPct: fromPct}
	if _, err := r.ledger.Append(ctx, event, r.stateName()); err != nil {
		r.logger.Errorw("failed to append rollback ledger entry", "error", err)
	}
	if err := r.notifier.Publish(ctx, event); err != nil {
		r.logger.Warnw("failed to publish rollback notification", "error", err)
	}

	r.logger.Warnw("rollout rolled back", "reason", reason, "previous_traffic_pct", fromPct)
}

func (r *RolloutGateController) stateName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.String()
}

// Snapshot reports the controller state for the status endpoint.
func (r *RolloutGateController) Snapshot() model.RolloutSnapshot {
	r.mu.Lock()
	state := r.state
	pct := r.trafficPct
	freeze := r.freeze
	next := 0
	for _, s := range r.stages {
		if s > pct {
			next = s
			break
		}
	}
	r.mu.Unlock()

	return model.RolloutSnapshot{
		State:             state.String(),
		TrafficPercentage: pct,
		ChangeFreeze:      freeze,
		GreenWindow:       r.tracker.Snapshot(),
		NextStage:         next,
	}
}
