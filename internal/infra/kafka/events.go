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

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/core/port"
	"github.com/mermac/goblincave-auth/internal/infra/config"
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
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
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
		UserID:    userID,
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

// PublishAccountRegistered publishes account.registered events.
func (p *EventPublisher) PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error {
	payload := struct {
		DeviceID     string         `json:"device_id"`
		Email        string         `json:"email"`
		Username     string         `json:"username"`
		RegisteredAt time.Time      `json:"registered_at"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		DeviceID:     event.DeviceID,
		Email:        event.Email,
		Username:     event.Username,
		RegisteredAt: event.RegisteredAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.registered", "", event.RegisteredAt, payload)
}

// PublishUserAuthenticated publishes user.authenticated events.
func (p *EventPublisher) PublishUserAuthenticated(ctx context.Context, event domain.UserAuthenticatedEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		Email           string         `json:"email"`
		Username        string         `json:"username"`
		Method          string         `json:"method"`
		AuthenticatedAt time.Time      `json:"authenticated_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		Email:           event.Email,
		Username:        event.Username,
		Method:          event.Method,
		AuthenticatedAt: event.AuthenticatedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "user.authenticated", event.UserID, event.AuthenticatedAt, payload)
}

// PublishProfileCreated publishes profile.created events.
func (p *EventPublisher) PublishProfileCreated(ctx context.Context, event domain.ProfileCreatedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		Username  string         `json:"username"`
		CreatedAt time.Time      `json:"created_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		Username:  event.Username,
		CreatedAt: event.CreatedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "profile.created", event.UserID, event.CreatedAt, payload)
}

// PublishVerificationResent publishes verification.resent events.
func (p *EventPublisher) PublishVerificationResent(ctx context.Context, event domain.VerificationResentEvent) error {
	payload := struct {
		Email       string         `json:"email"`
		RequestedAt time.Time      `json:"requested_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		Email:       event.Email,
		RequestedAt: event.RequestedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "verification.resent", "", event.RequestedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
