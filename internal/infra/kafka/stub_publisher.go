package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, tokenID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("token_id", tokenID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishKeyIssued logs keygate.key.issued events.
func (p *StubPublisher) PublishKeyIssued(_ context.Context, event domain.KeyIssuedEvent) error {
	payload := map[string]any{
		"token_id":   event.TokenID,
		"ip":         event.IP,
		"issued_at":  event.IssuedAt,
		"expires_at": event.ExpiresAt,
	}
	p.logEvent("keygate.key.issued", event.TokenID, event.IssuedAt, payload)
	return nil
}

// PublishKeyRevoked logs keygate.key.revoked events.
func (p *StubPublisher) PublishKeyRevoked(_ context.Context, event domain.KeyRevokedEvent) error {
	payload := map[string]any{
		"token_id":   event.TokenID,
		"reason":     event.Reason,
		"revoked_at": event.RevokedAt,
	}
	p.logEvent("keygate.key.revoked", event.TokenID, event.RevokedAt, payload)
	return nil
}

// PublishSweepCompleted logs keygate.sweep.completed events.
func (p *StubPublisher) PublishSweepCompleted(_ context.Context, event domain.SweepCompletedEvent) error {
	payload := map[string]any{
		"tokens_deleted":   event.TokensDeleted,
		"sessions_dropped": event.SessionsDropped,
		"completed_at":     event.CompletedAt,
	}
	p.logEvent("keygate.sweep.completed", "", event.CompletedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
