package port

import "context"

// PendingRegistrationCache holds at most one pending username per device
// between registration submission and the first verified login or callback.
// The value is durable across process restarts. Delete is idempotent: removing
// an already-consumed entry must not fail.
type PendingRegistrationCache interface {
	// Get returns the pending username for the device, or
	// repository.ErrNotFound when none exists.
	Get(ctx context.Context, deviceID string) (string, error)
	Put(ctx context.Context, deviceID, username string) error
	Delete(ctx context.Context, deviceID string) error
}
