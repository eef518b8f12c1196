package port

import (
	"context"

	"github.com/mermac/goblincave-auth/internal/core/domain"
)

// IdentityProvider exposes the external identity service the gateway delegates
// credential handling to. The provider owns users, sessions, and verification
// email delivery; this service never sees password hashes.
type IdentityProvider interface {
	// SignUp creates an unverified account. The redirectTo target is passed
	// unchanged so verification links route back to the callback handler.
	SignUp(ctx context.Context, email, password, redirectTo string) error
	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	// SignOut revokes the session identified by the access token.
	SignOut(ctx context.Context, accessToken string) error
	// SessionFromURL resolves the session encoded in a redirect URL, if any.
	// A nil session with nil error means the URL carried no session.
	SessionFromURL(ctx context.Context, rawURL string) (*domain.Session, error)
	// ResendVerification requests a fresh verification email. The provider
	// does not reveal whether the address exists.
	ResendVerification(ctx context.Context, email, redirectTo string) error
}
