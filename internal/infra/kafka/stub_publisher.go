package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/core/port"
	"github.com/mermac/goblincave-auth/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: log}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishAccountRegistered logs account.registered events.
func (p *StubPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	payload := map[string]any{
		"device_id":     event.DeviceID,
		"email":         logger.MaskEmail(event.Email),
		"username":      event.Username,
		"registered_at": event.RegisteredAt,
		"metadata":      event.Metadata,
	}
	p.logEvent("account.registered", "", event.RegisteredAt, payload)
	return nil
}

// PublishUserAuthenticated logs user.authenticated events.
func (p *StubPublisher) PublishUserAuthenticated(_ context.Context, event domain.UserAuthenticatedEvent) error {
	payload := map[string]any{
		"user_id":          event.UserID,
		"email":            logger.MaskEmail(event.Email),
		"username":         event.Username,
		"method":           event.Method,
		"authenticated_at": event.AuthenticatedAt,
		"metadata":         event.Metadata,
	}
	p.logEvent("user.authenticated", event.UserID, event.AuthenticatedAt, payload)
	return nil
}

// PublishProfileCreated logs profile.created events.
func (p *StubPublisher) PublishProfileCreated(_ context.Context, event domain.ProfileCreatedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"username":   event.Username,
		"created_at": event.CreatedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("profile.created", event.UserID, event.CreatedAt, payload)
	return nil
}

// PublishVerificationResent logs verification.resent events.
func (p *StubPublisher) PublishVerificationResent(_ context.Context, event domain.VerificationResentEvent) error {
	payload := map[string]any{
		"email":        logger.MaskEmail(event.Email),
		"requested_at": event.RequestedAt,
		"metadata":     event.Metadata,
	}
	p.logEvent("verification.resent", "", event.RequestedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
