// Package service exposes the operator-facing API over the resilience core:
// breaker overrides and telemetry, backlog inspection, rollout gate
// decisions and evidence ledger access.
package service

import (
	"context"
	"encoding/json"

	"SoakGate/internal/biz"
	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewResilienceService)

// ResilienceService is the operator decision endpoint. It only reads core
// state and invokes the documented overrides; it never mutates the backlog
// or ledger directly.
type ResilienceService struct {
	breaker    *biz.CircuitBreaker
	queue      *biz.BacklogQueue
	gate       *biz.RolloutGateController
	ledger     *biz.EvidenceLedger
	downstream biz.Downstream
	logger     *log.Helper
}

// NewResilienceService creates the operator service.
func NewResilienceService(breaker *biz.CircuitBreaker, queue *biz.BacklogQueue, gate *biz.RolloutGateController, ledger *biz.EvidenceLedger, downstream biz.Downstream, logger log.Logger) *ResilienceService {
	return &ResilienceService{
		breaker:    breaker,
		queue:      queue,
		gate:       gate,
		ledger:     ledger,
		downstream: downstream,
		logger:     log.NewHelper(logger),
	}
}

// CallRequest is one upstream call through the breaker.
type CallRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

// CallReply reports the call disposition. Exactly one of queued or result is
// meaningful; a downstream failure never surfaces here.
type CallReply struct {
	Queued bool            `json:"queued"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Call forwards one upstream request through the breaker. The only error is
// a missing idempotency key or the caller's own cancellation.
func (s *ResilienceService) Call(ctx context.Context, req CallRequest) (CallReply, error) {
	if req.IdempotencyKey == "" {
		return CallReply{}, errors.BadRequest("IDEMPOTENCY_KEY_REQUIRED", "call requires an idempotency key")
	}
	outcome, err := s.breaker.Call(ctx, s.downstream, req.IdempotencyKey, req.Payload)
	if err != nil {
		return CallReply{}, err
	}
	return CallReply{Queued: outcome.Queued, Result: outcome.Result}, nil
}

// Metrics returns the breaker telemetry snapshot.
func (s *ResilienceService) Metrics(ctx context.Context) model.BreakerMetrics {
	return s.breaker.Metrics()
}

// ForceOpen applies the manual open override. A reason is required: every
// override becomes a ledger entry and an unexplained one is useless
// evidence.
func (s *ResilienceService) ForceOpen(ctx context.Context, reason string) error {
	if reason == "" {
		return errors.BadRequest("REASON_REQUIRED", "force open requires a reason")
	}
	s.logger.Infow("operator force-open requested", "reason", reason)
	s.breaker.ForceOpen(ctx, reason)
	return nil
}

// ForceClose applies the manual close override.
func (s *ResilienceService) ForceClose(ctx context.Context, reason string) error {
	if reason == "" {
		return errors.BadRequest("REASON_REQUIRED", "force close requires a reason")
	}
	s.logger.Infow("operator force-close requested", "reason", reason)
	s.breaker.ForceClose(ctx, reason)
	return nil
}

// BacklogReply is the backlog inspection snapshot.
type BacklogReply struct {
	Depth       int                  `json:"depth"`
	DLQDepth    int                  `json:"dlq_depth"`
	Pending     []model.BacklogEntry `json:"pending"`
	DeadLetters []model.BacklogEntry `json:"dead_letters"`
}

// Backlog returns read-only snapshots of the pending and dead-letter sets.
func (s *ResilienceService) Backlog(ctx context.Context) BacklogReply {
	return BacklogReply{
		Depth:       s.queue.Depth(),
		DLQDepth:    s.queue.DLQDepth(),
		Pending:     s.queue.Pending(),
		DeadLetters: s.queue.DeadLetters(),
	}
}

// RolloutStatus returns the rollout controller snapshot.
func (s *ResilienceService) RolloutStatus(ctx context.Context) model.RolloutSnapshot {
	return s.gate.Snapshot()
}

// EvaluateGate runs the conjunctive gate at the operator's decision point.
func (s *ResilienceService) EvaluateGate(ctx context.Context) biz.GateDecision {
	return s.gate.EvaluateGate(ctx)
}

// AdvanceReply reports one ramp step request.
type AdvanceReply struct {
	TrafficPercentage int  `json:"traffic_percentage"`
	Advanced          bool `json:"advanced"`
}

// Advance steps the authorized ramp to its next stage. Advanced is false
// when the gate has not passed or the ramp is already complete.
func (s *ResilienceService) Advance(ctx context.Context) AdvanceReply {
	pct, ok := s.gate.Advance(ctx)
	if !ok {
		s.logger.Infow("advance refused", "traffic_percentage", pct)
	}
	return AdvanceReply{TrafficPercentage: pct, Advanced: ok}
}

// Rollback fires the rollback protocol.
func (s *ResilienceService) Rollback(ctx context.Context, reason string) error {
	if reason == "" {
		return errors.BadRequest("REASON_REQUIRED", "rollback requires a reason")
	}
	s.logger.Warnw("operator rollback requested", "reason", reason)
	s.gate.Rollback(ctx, reason)
	return nil
}

// LedgerEntries returns the most recent limit entries (all when limit <= 0).
func (s *ResilienceService) LedgerEntries(ctx context.Context, limit int) []model.LedgerEntry {
	entries := s.ledger.Entries()
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// VerifyReply reports a ledger chain verification.
type VerifyReply struct {
	Intact  bool `json:"intact"`
	Entries int  `json:"entries"`
}

// VerifyLedger walks the evidence chain.
func (s *ResilienceService) VerifyLedger(ctx context.Context) VerifyReply {
	intact := s.ledger.Verify()
	if !intact {
		s.logger.Errorw("ledger verification failed: automated rollout decisions must halt")
	}
	return VerifyReply{Intact: intact, Entries: s.ledger.Len()}
}
