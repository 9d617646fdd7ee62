package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
	"github.com/keygate-labs/keygate/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	TokenID   string           `json:"token_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, tokenID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		TokenID:   tokenID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishKeyIssued publishes keygate.key.issued events.
func (p *EventPublisher) PublishKeyIssued(ctx context.Context, event domain.KeyIssuedEvent) error {
	payload := struct {
		TokenID   string    `json:"token_id"`
		IP        string    `json:"ip,omitempty"`
		IssuedAt  time.Time `json:"issued_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}{
		TokenID:   event.TokenID,
		IP:        event.IP,
		IssuedAt:  event.IssuedAt.UTC(),
		ExpiresAt: event.ExpiresAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "keygate.key.issued", event.TokenID, event.IssuedAt, payload)
}

// PublishKeyRevoked publishes keygate.key.revoked events.
func (p *EventPublisher) PublishKeyRevoked(ctx context.Context, event domain.KeyRevokedEvent) error {
	payload := struct {
		TokenID   string    `json:"token_id"`
		Reason    string    `json:"reason,omitempty"`
		RevokedAt time.Time `json:"revoked_at"`
	}{
		TokenID:   event.TokenID,
		Reason:    event.Reason,
		RevokedAt: event.RevokedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "keygate.key.revoked", event.TokenID, event.RevokedAt, payload)
}

// PublishSweepCompleted publishes keygate.sweep.completed events.
func (p *EventPublisher) PublishSweepCompleted(ctx context.Context, event domain.SweepCompletedEvent) error {
	payload := struct {
		TokensDeleted   int       `json:"tokens_deleted"`
		SessionsDropped int       `json:"sessions_dropped"`
		CompletedAt     time.Time `json:"completed_at"`
	}{
		TokensDeleted:   event.TokensDeleted,
		SessionsDropped: event.SessionsDropped,
		CompletedAt:     event.CompletedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "keygate.sweep.completed", "", event.CompletedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
