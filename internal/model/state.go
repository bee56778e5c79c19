package model

import "time"

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed passes calls through to the downstream dependency.
	BreakerClosed BreakerState = iota
	// BreakerOpen diverts every call to the backlog.
	BreakerOpen
	// BreakerHalfOpen allows a single probe per probe interval.
	BreakerHalfOpen
)

// String returns the state name used in logs, ledger entries and the API.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// FailureKind classifies a downstream failure at the wrapped-call boundary.
// All kinds are treated uniformly by the breaker; the distinction exists for
// diagnosis only.
type FailureKind int

const (
	// FailureTimeout means the downstream call exceeded its deadline.
	FailureTimeout FailureKind = iota
	// FailureRejected means the downstream actively refused the call.
	FailureRejected
	// FailureUnavailable means the downstream could not be reached.
	FailureUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureRejected:
		return "rejected"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// BacklogStatus is the lifecycle status of a backlog entry.
type BacklogStatus string

const (
	// BacklogPending entries are waiting for their next retry.
	BacklogPending BacklogStatus = "pending"
	// BacklogDeadLetter entries exhausted their retries; manual remediation only.
	BacklogDeadLetter BacklogStatus = "dead_letter"
)

// BacklogEntry is one deferred downstream call. At most one non-dead-letter
// entry exists per idempotency key at any time.
type BacklogEntry struct {
	ID          int64         `json:"id"`
	Key         string        `json:"idempotency_key"`
	Payload     []byte        `json:"payload"`
	FirstSeenAt time.Time     `json:"first_seen_at"`
	NextRetryAt time.Time     `json:"next_retry_at"`
	Attempts    int           `json:"attempts"`
	Status      BacklogStatus `json:"status"`
}

// RolloutState is the rollout gate controller state.
type RolloutState int

const (
	// RolloutHolding is the initial soak state: accumulating green time.
	RolloutHolding RolloutState = iota
	// RolloutGreenAchieved means the green window target was met; awaiting gate.
	RolloutGreenAchieved
	// RolloutBreached means a breach reset the soak; secondary traffic is off.
	RolloutBreached
	// RolloutGatePassed authorizes the start of the staged ramp.
	RolloutGatePassed
	// RolloutGateFailed means the conjunctive gate failed; remain reduced.
	RolloutGateFailed
)

func (s RolloutState) String() string {
	switch s {
	case RolloutHolding:
		return "HOLDING"
	case RolloutGreenAchieved:
		return "GREEN_ACHIEVED"
	case RolloutBreached:
		return "BREACHED"
	case RolloutGatePassed:
		return "GATE_PASSED"
	case RolloutGateFailed:
		return "GATE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// BreakerMetrics is the telemetry snapshot polled by the external
// telemetry layer. P95Ms and ErrorRate are 0 when no samples exist;
// consumers must treat 0 as "no data", never "healthy".
type BreakerMetrics struct {
	State          string     `json:"state"`
	FailuresLast5M int        `json:"failures_last_5m"`
	OpenCount1H    int        `json:"open_count_1h"`
	BacklogDepth   int        `json:"backlog_depth"`
	DLQDepth       int        `json:"dlq_depth"`
	P95Ms          float64    `json:"p95_ms"`
	ErrorRate      float64    `json:"error_rate"`
	SampleCount    int        `json:"sample_count"`
	ClosedSince    *time.Time `json:"closed_since,omitempty"`
}

// GreenWindowSnapshot reports the current soak accumulator.
type GreenWindowSnapshot struct {
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ConsecutiveGreen float64    `json:"consecutive_green_seconds"`
	BreachCount      int        `json:"breach_count"`
	LastBreachReason string     `json:"last_breach_reason,omitempty"`
	MeetsTarget      bool       `json:"meets_target"`
}

// RolloutSnapshot reports the rollout controller for the status endpoint.
type RolloutSnapshot struct {
	State             string              `json:"state"`
	TrafficPercentage int                 `json:"traffic_percentage"`
	ChangeFreeze      bool                `json:"change_freeze"`
	GreenWindow       GreenWindowSnapshot `json:"green_window"`
	NextStage         int                 `json:"next_stage,omitempty"`
}
