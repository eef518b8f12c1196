package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	red "github.com/redis/go-redis/v9"

	"github.com/mermac/goblincave-auth/internal/core/port"
	"github.com/mermac/goblincave-auth/internal/repository"
)

const defaultPendingPrefix = "goblincave:pending_username"

// PendingRegistrationRepository stores the pending username chosen at
// registration time, keyed per device. The value has no TTL: it must survive
// until email verification completes, however long that takes.
type PendingRegistrationRepository struct {
	client *red.Client
	prefix string
}

// NewPendingRegistrationRepository constructs the repository with the provided
// Redis client and key prefix.
func NewPendingRegistrationRepository(client *red.Client, keyPrefix string) *PendingRegistrationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPendingPrefix
	}
	return &PendingRegistrationRepository{client: client, prefix: prefix}
}

// Get returns the pending username for the device, or repository.ErrNotFound.
func (r *PendingRegistrationRepository) Get(ctx context.Context, deviceID string) (string, error) {
	key, err := r.key(deviceID)
	if err != nil {
		return "", err
	}

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis get pending username: %w", err)
	}
	if value == "" {
		return "", repository.ErrNotFound
	}

	return value, nil
}

// Put stores the pending username, replacing any previous value for the device.
func (r *PendingRegistrationRepository) Put(ctx context.Context, deviceID, username string) error {
	key, err := r.key(deviceID)
	if err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}

	if err := r.client.Set(ctx, key, username, 0).Err(); err != nil {
		return fmt.Errorf("redis set pending username: %w", err)
	}

	return nil
}

// Delete removes the entry. Deleting a missing entry is not an error so the
// callback handler can replay safely.
func (r *PendingRegistrationRepository) Delete(ctx context.Context, deviceID string) error {
	key, err := r.key(deviceID)
	if err != nil {
		return err
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete pending username: %w", err)
	}

	return nil
}

func (r *PendingRegistrationRepository) key(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", errors.New("device id is required")
	}
	return fmt.Sprintf("%s:%s", r.prefix, deviceID), nil
}

var _ port.PendingRegistrationCache = (*PendingRegistrationRepository)(nil)
