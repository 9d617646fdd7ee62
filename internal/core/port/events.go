package port

import (
	"context"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

// EventPublisher fans key lifecycle events out to downstream consumers.
// Publishing is fire-and-forget from the caller's perspective; failures are
// logged, never escalated to request handling.
type EventPublisher interface {
	PublishKeyIssued(ctx context.Context, event domain.KeyIssuedEvent) error
	PublishKeyRevoked(ctx context.Context, event domain.KeyRevokedEvent) error
	PublishSweepCompleted(ctx context.Context, event domain.SweepCompletedEvent) error
}

// StatsNotifier pushes aggregate counts to the configured notification sink
// on a fixed interval. Delivery internals live behind this interface.
type StatsNotifier interface {
	NotifyStats(ctx context.Context, stats domain.TokenStats) error
}
