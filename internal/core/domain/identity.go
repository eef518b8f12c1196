package domain

import (
	"strings"
	"time"
)

// Credentials carries the email/password pair for a sign-in attempt. Never persisted.
type Credentials struct {
	Email    string
	Password string
}

// Registration captures the fields submitted from the registration form.
type Registration struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// User is the identity provider's projection of an account. Owned by the
// provider; this service only reads it.
type User struct {
	ID              string
	Email           string
	EmailVerifiedAt *time.Time
}

// Verified reports whether the provider has confirmed the account's email.
func (u User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

// Session is the opaque token bundle issued by the identity provider.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         User
}

// Profile is the application-specific record layered on top of a provider
// user. Exactly one row per User.ID; Username is unique across all profiles.
type Profile struct {
	ID        string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppUser is the authenticated identity handed to the rest of the application
// once a flow completes.
type AppUser struct {
	Email    string
	Username string
}

// NewAppUser derives the authenticated identity: the pending username wins
// when present, otherwise the email local-part is used as a fallback.
func NewAppUser(email, pendingUsername string) AppUser {
	username := strings.TrimSpace(pendingUsername)
	if username == "" {
		username = EmailLocalPart(email)
	}
	return AppUser{Email: email, Username: username}
}

// EmailLocalPart returns the substring before '@', or the whole input when no
// '@' is present.
func EmailLocalPart(email string) string {
	if idx := strings.Index(email, "@"); idx >= 0 {
		return email[:idx]
	}
	return email
}
