package domain

import "time"

// AccountRegisteredEvent represents the payload for goblincave.account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	DeviceID     string
	Email        string
	Username     string
	RegisteredAt time.Time
	Metadata     map[string]any
}

// UserAuthenticatedEvent represents the payload for goblincave.user.authenticated messages.
type UserAuthenticatedEvent struct {
	EventID         string
	UserID          string
	Email           string
	Username        string
	Method          string // "password" or "callback"
	AuthenticatedAt time.Time
	Metadata        map[string]any
}

// ProfileCreatedEvent represents the payload for goblincave.profile.created messages.
type ProfileCreatedEvent struct {
	EventID   string
	UserID    string
	Username  string
	CreatedAt time.Time
	Metadata  map[string]any
}

// VerificationResentEvent represents the payload for goblincave.verification.resent messages.
type VerificationResentEvent struct {
	EventID     string
	Email       string
	RequestedAt time.Time
	Metadata    map[string]any
}
