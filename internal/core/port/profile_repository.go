package port

import (
	"context"

	"github.com/mermac/goblincave-auth/internal/core/domain"
)

// ProfileRepository persists the application profile layered on top of a
// provider user.
type ProfileRepository interface {
	// Upsert writes the profile with conflict resolution on ID, so repeating
	// the call with the same inputs is safe. A duplicate username surfaces as
	// repository.ErrConflict.
	Upsert(ctx context.Context, profile domain.Profile) error
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
}
