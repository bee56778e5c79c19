package biz

import (
	"context"

	"SoakGate/internal/model"
)

// Notifier is the narrow outward contract for paging and evidence export.
// The core depends only on this interface; transports (Redis pub/sub,
// structured log, future HTTP webhooks) live in the data layer.
type Notifier interface {
	// Publish delivers one event to the external sink. Delivery is
	// best-effort: a failed publish is logged by the implementation and
	// never propagates into core state transitions.
	Publish(ctx context.Context, event model.Event) error
}

// FreezeFlag is the global change-freeze marker shared across instances.
// Implementations degrade gracefully: when the backing store is unavailable
// the local controller state remains authoritative.
type FreezeFlag interface {
	Engage(ctx context.Context, reason string) error
	Release(ctx context.Context) error
	Engaged(ctx context.Context) (bool, error)
}
