package model

import "time"

// EventType identifies a ledger/notification event kind.
type EventType string

const (
	// EventBreakerOpened is emitted when the failure window trips the breaker.
	EventBreakerOpened EventType = "BREAKER_OPENED"
	// EventBreakerClosed is emitted when probe successes close the breaker.
	EventBreakerClosed EventType = "BREAKER_CLOSED"
	// EventBreakerForcedOpen is emitted on a manual forceOpen override.
	EventBreakerForcedOpen EventType = "BREAKER_FORCED_OPEN"
	// EventBreakerForcedClosed is emitted on a manual forceClose override.
	EventBreakerForcedClosed EventType = "BREAKER_FORCED_CLOSED"
	// EventDeadLettered is emitted once per entry moved to the dead-letter set.
	// This is the only event that pages by default.
	EventDeadLettered EventType = "BACKLOG_DEAD_LETTERED"
	// EventGreenAchieved is emitted when the soak accumulator crosses target.
	EventGreenAchieved EventType = "GREEN_WINDOW_ACHIEVED"
	// EventGreenReset is emitted when a breach resets the soak timer.
	EventGreenReset EventType = "GREEN_WINDOW_RESET"
	// EventGateEvaluated is emitted at each gate decision point.
	EventGateEvaluated EventType = "ROLLOUT_GATE_EVALUATED"
	// EventRolloutAdvanced is emitted when the traffic percentage steps up.
	EventRolloutAdvanced EventType = "ROLLOUT_ADVANCED"
	// EventRolloutRolledBack is emitted on the rollback protocol.
	EventRolloutRolledBack EventType = "ROLLOUT_ROLLED_BACK"
)

// String returns the string representation of EventType.
func (e EventType) String() string {
	return string(e)
}

// Event is the closed set of payloads carried by ledger entries and
// notifications. Consumers switch on the concrete type instead of probing
// untyped maps.
type Event interface {
	EventType() EventType
}

// BreakerOpenedEvent records an automatic breaker trip.
type BreakerOpenedEvent struct {
	OpenedAt        time.Time `json:"opened_at"`
	WindowFailures  int       `json:"window_failures"`
	OpenCount1H     int       `json:"open_count_1h"`
	TriggeredByKind string    `json:"triggered_by_kind,omitempty"`
}

func (BreakerOpenedEvent) EventType() EventType { return EventBreakerOpened }

// BreakerClosedEvent records recovery after consecutive probe successes.
type BreakerClosedEvent struct {
	ClosedAt   time.Time     `json:"closed_at"`
	OpenFor    time.Duration `json:"open_for"`
	ProbeCount int           `json:"probe_count"`
}

func (BreakerClosedEvent) EventType() EventType { return EventBreakerClosed }

// BreakerForcedEvent records a manual operator override.
type BreakerForcedEvent struct {
	Open   bool      `json:"open"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (e BreakerForcedEvent) EventType() EventType {
	if e.Open {
		return EventBreakerForcedOpen
	}
	return EventBreakerForcedClosed
}

// DeadLetteredEvent records a backlog entry exhausting its retries.
type DeadLetteredEvent struct {
	Key         string    `json:"idempotency_key"`
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastKind    string    `json:"last_failure_kind,omitempty"`
}

func (DeadLetteredEvent) EventType() EventType { return EventDeadLettered }

// GreenAchievedEvent carries the full metrics snapshot as evidence for the
// soak target being met.
type GreenAchievedEvent struct {
	AchievedAt   time.Time      `json:"achieved_at"`
	GreenSeconds float64        `json:"green_seconds"`
	Metrics      BreakerMetrics `json:"metrics"`
}

func (GreenAchievedEvent) EventType() EventType { return EventGreenAchieved }

// GreenResetEvent records a soak timer reset with the breach reason and the
// recomputed earliest time the target can be met again.
type GreenResetEvent struct {
	ResetAt      time.Time `json:"reset_at"`
	BreachReason string    `json:"breach_reason"`
	BreachCount  int       `json:"breach_count"`
	EarliestETA  time.Time `json:"earliest_eta"`
}

func (GreenResetEvent) EventType() EventType { return EventGreenReset }

// GateEvaluatedEvent records a conjunctive gate decision with per-criterion
// results.
type GateEvaluatedEvent struct {
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Passed      bool            `json:"passed"`
	Criteria    map[string]bool `json:"criteria"`
	Metrics     BreakerMetrics  `json:"metrics"`
}

func (GateEvaluatedEvent) EventType() EventType { return EventGateEvaluated }

// RolloutAdvancedEvent records one ramp stage step.
type RolloutAdvancedEvent struct {
	AdvancedAt time.Time `json:"advanced_at"`
	FromPct    int       `json:"from_pct"`
	ToPct      int       `json:"to_pct"`
}

func (RolloutAdvancedEvent) EventType() EventType { return EventRolloutAdvanced }

// RolloutRolledBackEvent records the rollback protocol firing.
type RolloutRolledBackEvent struct {
	RolledBackAt time.Time `json:"rolled_back_at"`
	Reason       string    `json:"reason"`
	FromPct      int       `json:"from_pct"`
}

func (RolloutRolledBackEvent) EventType() EventType { return EventRolloutRolledBack }
