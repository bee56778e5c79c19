package data

import (
	"context"
	"encoding/json"
	"fmt"

	"SoakGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NotifyChannel is the Redis pub/sub channel carrying resilience events for
// the paging/evidence-export consumers.
const NotifyChannel = "soakgate:events"

// notifyEnvelope is the wire format on the channel: the event type tag plus
// the marshaled payload, so consumers can dispatch without probing keys.
type notifyEnvelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// RedisNotifier publishes events to a Redis pub/sub channel. When Redis is
// unavailable the event is logged instead so that paging-relevant
// information is never silently lost; delivery stays best-effort either way.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewRedisNotifier creates a notifier. The Redis client may be nil; events
// then go to the structured log only.
func NewRedisNotifier(d *Data, logger log.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb:    d.redisClient,
		logger: log.NewHelper(logger),
	}
}

// Publish implements the notifier contract consumed by the resilience core.
func (n *RedisNotifier) Publish(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
	}

	envelope, err := json.Marshal(notifyEnvelope{
		EventType: event.EventType().String(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if n.rdb == nil {
		n.logger.Infow("event published to log (Redis unavailable)",
			"event_type", event.EventType().String(),
			"payload", string(payload))
		return nil
	}

	if err := n.rdb.Publish(ctx, NotifyChannel, envelope).Err(); err != nil {
		n.logger.Warnw("failed to publish event to Redis (logged instead)",
			"event_type", event.EventType().String(),
			"payload", string(payload),
			"error", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	n.logger.Debugw("event published", "event_type", event.EventType().String())
	return nil
}
