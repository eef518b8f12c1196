package port

import (
	"context"

	"github.com/mermac/goblincave-auth/internal/core/domain"
)

// EventPublisher publishes auth domain events to the message bus.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error
	PublishUserAuthenticated(ctx context.Context, event domain.UserAuthenticatedEvent) error
	PublishProfileCreated(ctx context.Context, event domain.ProfileCreatedEvent) error
	PublishVerificationResent(ctx context.Context, event domain.VerificationResentEvent) error
}
